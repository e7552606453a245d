// handlers_flow.go - Guided upload flow handlers
package api

import (
	"context"
	"net/http"

	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
	"github.com/trinity/guided-upload/internal/controller"
	"github.com/trinity/guided-upload/internal/models"
	"github.com/trinity/guided-upload/internal/session"
	"go.uber.org/zap"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// FlowHandlerImpl implements the FlowHandler interface
type FlowHandlerImpl struct {
	flows  FlowManager
	logger *zap.Logger
}

// NewFlowHandler creates a new flow handler instance
func NewFlowHandler(flows FlowManager, logger *zap.Logger) FlowHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &FlowHandlerImpl{flows: flows, logger: logger.Named("api")}
}

type fileRequest struct {
	Name        string `json:"name" validate:"required"`
	Path        string `json:"path" validate:"required"`
	Size        int64  `json:"size" validate:"gte=0"`
	TotalSheets *int   `json:"totalSheets" validate:"omitempty,gte=1"`
}

func (f fileRequest) toModel() models.UploadedFileInfo {
	return models.UploadedFileInfo{Name: f.Name, Path: f.Path, Size: f.Size, TotalSheets: f.TotalSheets}
}

func toFiles(in []fileRequest) []models.UploadedFileInfo {
	out := make([]models.UploadedFileInfo, len(in))
	for i, f := range in {
		out[i] = f.toModel()
	}
	return out
}

type startFlowRequest struct {
	FlowKey   string        `json:"flowKey" validate:"max=200"`
	ClientID  string        `json:"clientId"`
	AppID     string        `json:"appId"`
	ProjectID string        `json:"projectId"`
	Files     []fileRequest `json:"files" validate:"required,min=1,dive"`
}

func (r *startFlowRequest) validate() error {
	if err := validate.Struct(r); err != nil {
		return validationError(err)
	}
	return nil
}

type addFilesRequest struct {
	Files []fileRequest `json:"files" validate:"required,min=1,dive"`
}

func (r *addFilesRequest) validate() error {
	if err := validate.Struct(r); err != nil {
		return validationError(err)
	}
	return nil
}

type headerRequest struct {
	HeaderRowIndex *int `json:"headerRowIndex" validate:"omitempty,gte=0"`
	SheetIndex     *int `json:"sheetIndex" validate:"omitempty,gte=0"`
}

func (r *headerRequest) validate() error {
	if r.HeaderRowIndex == nil && r.SheetIndex == nil {
		return NewValidationError("headerRowIndex or sheetIndex")
	}
	if err := validate.Struct(r); err != nil {
		return validationError(err)
	}
	return nil
}

type columnEditRequest struct {
	OriginalName string  `json:"originalName" validate:"required"`
	EditedName   *string `json:"editedName"`
	Keep         *bool   `json:"keep"`
}

type editColumnsRequest struct {
	Edits []columnEditRequest `json:"edits" validate:"required,min=1,dive"`
}

func (r *editColumnsRequest) validate() error {
	if err := validate.Struct(r); err != nil {
		return validationError(err)
	}
	return nil
}

type dataTypeEditRequest struct {
	Column          string  `json:"column" validate:"required"`
	Type            string  `json:"type" validate:"omitempty,oneof=text string number int float boolean date datetime category"`
	Role            string  `json:"role" validate:"omitempty,oneof=identifier measure"`
	Format          *string `json:"format"`
	ApplySuggestion bool    `json:"applySuggestion"`
	DismissWarning  bool    `json:"dismissWarning"`
}

type editDataTypesRequest struct {
	Edits []dataTypeEditRequest `json:"edits" validate:"required,min=1,dive"`
}

func (r *editDataTypesRequest) validate() error {
	if err := validate.Struct(r); err != nil {
		return validationError(err)
	}
	return nil
}

const (
	bulkNumericIdentifiersToMeasures = "numeric-identifiers-to-measures"
	bulkTextMeasuresToIdentifiers    = "text-measures-to-identifiers"
)

type bulkRolesRequest struct {
	Action string `json:"action" validate:"required,oneof=numeric-identifiers-to-measures text-measures-to-identifiers"`
}

func (r *bulkRolesRequest) validate() error {
	if err := validate.Struct(r); err != nil {
		return validationError(err)
	}
	return nil
}

// fillValue is a custom fill value sent as a JSON string or number.
type fillValue string

func (v *fillValue) UnmarshalJSON(data []byte) error {
	s, err := models.DecodeCustomValue(data)
	if err != nil {
		return err
	}
	*v = fillValue(s)
	return nil
}

type missingValueRequest struct {
	Column   string    `json:"column" validate:"required"`
	Strategy string    `json:"strategy" validate:"required,oneof=none drop mean median mode zero empty custom"`
	Value    fillValue `json:"value" validate:"required_if=Strategy custom"`
}

type missingValuesRequest struct {
	Strategies []missingValueRequest `json:"strategies" validate:"required,min=1,dive"`
}

func (r *missingValuesRequest) validate() error {
	if err := validate.Struct(r); err != nil {
		return validationError(err)
	}
	return nil
}

type goToStageRequest struct {
	Stage string `json:"stage" validate:"required,oneof=U3 U4 U5"`
}

func (r *goToStageRequest) validate() error {
	if err := validate.Struct(r); err != nil {
		return validationError(err)
	}
	return nil
}

type chromeRequest struct {
	State string `json:"state" validate:"required,oneof=normal minimized maximized"`
}

func (r *chromeRequest) validate() error {
	if err := validate.Struct(r); err != nil {
		return validationError(err)
	}
	return nil
}

type flowResponse struct {
	ID string `json:"id"`
	controller.View
}

// flow resolves the :id path parameter.
func (h *FlowHandlerImpl) flow(c echo.Context) (*session.FlowState, error) {
	id := c.Param("id")
	if id == "" {
		return nil, NewValidationError("id")
	}
	fs, ok := h.flows.GetFlow(id)
	if !ok {
		return nil, NewNotFoundError("flow", id)
	}
	return fs, nil
}

func (h *FlowHandlerImpl) respond(c echo.Context, fs *session.FlowState) error {
	return c.JSON(http.StatusOK, flowResponse{ID: fs.ID, View: fs.Controller.View()})
}

// action runs a controller operation and responds with the resulting view.
func (h *FlowHandlerImpl) action(c echo.Context, op func(ctx context.Context, ctrl *controller.Controller) error) error {
	fs, err := h.flow(c)
	if err != nil {
		return err
	}
	if err := op(c.Request().Context(), fs.Controller); err != nil {
		h.logger.Debug("flow operation rejected",
			zap.String("flow", fs.ID), zap.String("path", c.Path()), zap.Error(err))
		return flowError(err)
	}
	return h.respond(c, fs)
}

// HandleStartFlow starts a new flow, or resumes one saved under the same key
func (h *FlowHandlerImpl) HandleStartFlow(c echo.Context) error {
	var req startFlowRequest
	if err := c.Bind(&req); err != nil {
		return NewBadRequestError("invalid request body", err)
	}
	if err := req.validate(); err != nil {
		return err
	}

	fs, err := h.flows.StartFlow(c.Request().Context(), session.StartRequest{
		FlowKey: req.FlowKey,
		Env:     models.Environment{ClientID: req.ClientID, AppID: req.AppID, ProjectID: req.ProjectID},
		Files:   toFiles(req.Files),
	})
	if err != nil {
		return flowError(err)
	}
	return c.JSON(http.StatusCreated, flowResponse{ID: fs.ID, View: fs.Controller.View()})
}

// HandleGetFlow returns the current view of a flow
func (h *FlowHandlerImpl) HandleGetFlow(c echo.Context) error {
	fs, err := h.flow(c)
	if err != nil {
		return err
	}
	return h.respond(c, fs)
}

// HandleGetFlowState returns the raw flow state
func (h *FlowHandlerImpl) HandleGetFlowState(c echo.Context) error {
	fs, err := h.flow(c)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, fs.Controller.Snapshot())
}

// HandleKeepAlive extends flow lifetime for active use
func (h *FlowHandlerImpl) HandleKeepAlive(c echo.Context) error {
	id := c.Param("id")
	if id == "" {
		return NewValidationError("id")
	}
	if ok := h.flows.TouchFlow(id); !ok {
		return NewNotFoundError("flow", id)
	}
	return c.NoContent(http.StatusNoContent)
}

func (h *FlowHandlerImpl) HandleNext(c echo.Context) error {
	return h.action(c, func(ctx context.Context, ctrl *controller.Controller) error { return ctrl.Next(ctx) })
}

func (h *FlowHandlerImpl) HandleBack(c echo.Context) error {
	return h.action(c, func(ctx context.Context, ctrl *controller.Controller) error { return ctrl.Back(ctx) })
}

func (h *FlowHandlerImpl) HandleNextFile(c echo.Context) error {
	return h.action(c, func(ctx context.Context, ctrl *controller.Controller) error { return ctrl.NextFile(ctx) })
}

func (h *FlowHandlerImpl) HandlePreviousFile(c echo.Context) error {
	return h.action(c, func(ctx context.Context, ctrl *controller.Controller) error { return ctrl.PreviousFile(ctx) })
}

func (h *FlowHandlerImpl) HandleRestart(c echo.Context) error {
	return h.action(c, func(ctx context.Context, ctrl *controller.Controller) error { return ctrl.Restart(ctx) })
}

func (h *FlowHandlerImpl) HandleCancel(c echo.Context) error {
	return h.action(c, func(ctx context.Context, ctrl *controller.Controller) error { return ctrl.Cancel(ctx) })
}

// HandleReload fetches the data of the current stage again
func (h *FlowHandlerImpl) HandleReload(c echo.Context) error {
	return h.action(c, func(ctx context.Context, ctrl *controller.Controller) error {
		if err := ctrl.Reload(ctx); err != nil {
			// the stage view carries the failure
			h.logger.Warn("stage reload failed", zap.Error(err))
		}
		return nil
	})
}

// HandleAddFiles adds files to a running flow
func (h *FlowHandlerImpl) HandleAddFiles(c echo.Context) error {
	var req addFilesRequest
	if err := c.Bind(&req); err != nil {
		return NewBadRequestError("invalid request body", err)
	}
	if err := req.validate(); err != nil {
		return err
	}
	return h.action(c, func(ctx context.Context, ctrl *controller.Controller) error {
		return ctrl.AddFiles(ctx, toFiles(req.Files)...)
	})
}

// HandleSetHeader updates the header selection of the active file (U2)
func (h *FlowHandlerImpl) HandleSetHeader(c echo.Context) error {
	var req headerRequest
	if err := c.Bind(&req); err != nil {
		return NewBadRequestError("invalid request body", err)
	}
	if err := req.validate(); err != nil {
		return err
	}
	return h.action(c, func(ctx context.Context, ctrl *controller.Controller) error {
		return ctrl.Edit(ctx, models.StageConfirmStructure, func() error {
			if req.SheetIndex != nil {
				if err := ctrl.Header().SetSheet(*req.SheetIndex); err != nil {
					return err
				}
			}
			if req.HeaderRowIndex != nil {
				return ctrl.Header().SetHeaderRow(*req.HeaderRowIndex)
			}
			return nil
		})
	})
}

// HandleEditColumns renames columns and toggles their keep flag (U3)
func (h *FlowHandlerImpl) HandleEditColumns(c echo.Context) error {
	var req editColumnsRequest
	if err := c.Bind(&req); err != nil {
		return NewBadRequestError("invalid request body", err)
	}
	if err := req.validate(); err != nil {
		return err
	}
	return h.action(c, func(ctx context.Context, ctrl *controller.Controller) error {
		return ctrl.Edit(ctx, models.StageReviewColumns, func() error {
			for _, e := range req.Edits {
				if e.EditedName != nil {
					if err := ctrl.Columns().Rename(e.OriginalName, *e.EditedName); err != nil {
						return err
					}
				}
				if e.Keep != nil {
					if err := ctrl.Columns().SetKeep(e.OriginalName, *e.Keep); err != nil {
						return err
					}
				}
			}
			return nil
		})
	})
}

// HandleEditDataTypes changes column types, roles and formats (U4)
func (h *FlowHandlerImpl) HandleEditDataTypes(c echo.Context) error {
	var req editDataTypesRequest
	if err := c.Bind(&req); err != nil {
		return NewBadRequestError("invalid request body", err)
	}
	if err := req.validate(); err != nil {
		return err
	}
	return h.action(c, func(ctx context.Context, ctrl *controller.Controller) error {
		return ctrl.Edit(ctx, models.StageReviewDataTypes, func() error {
			types := ctrl.DataTypes()
			for _, e := range req.Edits {
				if e.ApplySuggestion {
					if err := types.ApplySuggestion(ctx, e.Column); err != nil {
						return err
					}
				}
				if e.Type != "" {
					if err := types.SetType(ctx, e.Column, models.DataType(e.Type)); err != nil {
						return err
					}
				}
				if e.Role != "" {
					if err := types.SetRole(e.Column, models.ColumnRole(e.Role)); err != nil {
						return err
					}
				}
				if e.Format != nil {
					if err := types.SetFormat(e.Column, *e.Format); err != nil {
						return err
					}
				}
				if e.DismissWarning {
					if err := types.DismissWarning(e.Column); err != nil {
						return err
					}
				}
			}
			return nil
		})
	})
}

// HandleBulkRoles runs one of the bulk role conversions (U4)
func (h *FlowHandlerImpl) HandleBulkRoles(c echo.Context) error {
	var req bulkRolesRequest
	if err := c.Bind(&req); err != nil {
		return NewBadRequestError("invalid request body", err)
	}
	if err := req.validate(); err != nil {
		return err
	}
	return h.action(c, func(ctx context.Context, ctrl *controller.Controller) error {
		return ctrl.Edit(ctx, models.StageReviewDataTypes, func() error {
			var n int
			if req.Action == bulkNumericIdentifiersToMeasures {
				n = ctrl.DataTypes().ConvertNumericIdentifiersToMeasures()
			} else {
				n = ctrl.DataTypes().ConvertTextMeasuresToIdentifiers()
			}
			h.logger.Debug("bulk role conversion", zap.String("action", req.Action), zap.Int("columns", n))
			return nil
		})
	})
}

// HandleSetMissingValues sets missing value strategies (U5)
func (h *FlowHandlerImpl) HandleSetMissingValues(c echo.Context) error {
	var req missingValuesRequest
	if err := c.Bind(&req); err != nil {
		return NewBadRequestError("invalid request body", err)
	}
	if err := req.validate(); err != nil {
		return err
	}
	return h.action(c, func(ctx context.Context, ctrl *controller.Controller) error {
		return ctrl.Edit(ctx, models.StageMissingValues, func() error {
			for _, s := range req.Strategies {
				if err := ctrl.Missing().SetStrategy(s.Column, models.StrategyKind(s.Strategy), string(s.Value)); err != nil {
					return err
				}
			}
			return nil
		})
	})
}

// HandleGoToStage jumps from the final preview back to an earlier stage
func (h *FlowHandlerImpl) HandleGoToStage(c echo.Context) error {
	var req goToStageRequest
	if err := c.Bind(&req); err != nil {
		return NewBadRequestError("invalid request body", err)
	}
	if err := req.validate(); err != nil {
		return err
	}
	return h.action(c, func(ctx context.Context, ctrl *controller.Controller) error {
		return ctrl.GoBackTo(ctx, models.Stage(req.Stage))
	})
}

// HandleConfirm primes the flow from the final preview
func (h *FlowHandlerImpl) HandleConfirm(c echo.Context) error {
	return h.action(c, func(ctx context.Context, ctrl *controller.Controller) error { return ctrl.Confirm(ctx) })
}

// HandleChrome minimizes, maximizes or restores the wizard window
func (h *FlowHandlerImpl) HandleChrome(c echo.Context) error {
	var req chromeRequest
	if err := c.Bind(&req); err != nil {
		return NewBadRequestError("invalid request body", err)
	}
	if err := req.validate(); err != nil {
		return err
	}
	return h.action(c, func(ctx context.Context, ctrl *controller.Controller) error {
		switch controller.Chrome(req.State) {
		case controller.ChromeMinimized:
			ctrl.Minimize()
		case controller.ChromeMaximized:
			ctrl.Maximize()
		default:
			ctrl.RestoreChrome()
		}
		return nil
	})
}
