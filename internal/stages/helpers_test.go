package stages

import (
	"context"
	"testing"
	"time"

	"github.com/trinity/guided-upload/internal/flow"
	"github.com/trinity/guided-upload/internal/gateway"
	"github.com/trinity/guided-upload/internal/models"
	"github.com/trinity/guided-upload/internal/testutil"
)

var ctx = context.Background()

type hookCalls struct {
	next, back, restart, cancel, confirm int
	goTo                                 []models.Stage
}

func newTestDeps(t *testing.T, files ...models.UploadedFileInfo) (Deps, *testutil.FakeBackend, *hookCalls) {
	t.Helper()
	backend := testutil.NewSalesBackend(t)
	if len(files) == 0 {
		files = []models.UploadedFileInfo{testutil.SalesFile()}
	}
	calls := &hookCalls{}
	deps := Deps{
		Store: flow.NewStore(files),
		Gateway: gateway.NewHTTPClient(gateway.Options{
			BaseURL:       backend.URL(),
			Timeout:       5 * time.Second,
			RetryInterval: time.Millisecond,
		}),
		Env:   models.StaticEnvironment{ClientID: "acme", AppID: "trinity", ProjectID: "p1"},
		Rules: DefaultRules(),
		Hooks: Hooks{
			OnNext:    func(context.Context) error { calls.next++; return nil },
			OnBack:    func(context.Context) error { calls.back++; return nil },
			OnRestart: func(context.Context) error { calls.restart++; return nil },
			OnCancel:  func(context.Context) error { calls.cancel++; return nil },
			OnConfirm: func(context.Context) error { calls.confirm++; return nil },
			OnGoToStage: func(_ context.Context, s models.Stage) error {
				calls.goTo = append(calls.goTo, s)
				return nil
			},
		},
	}
	return deps, backend, calls
}

func typeRowByName(v DataTypesView, name string) (TypeRow, bool) {
	for _, r := range v.Columns {
		if r.ColumnName == name {
			return r, true
		}
	}
	return TypeRow{}, false
}

func missingRowByName(v MissingView, name string) (MissingRow, bool) {
	for _, r := range v.Columns {
		if r.ColumnName == name {
			return r, true
		}
	}
	return MissingRow{}, false
}

func emptyStore() *flow.Store {
	return flow.NewStore(nil)
}
