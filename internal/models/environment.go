package models

// Environment carries the tenant identifiers forwarded to the backend.
type Environment struct {
	ClientID  string `json:"clientId"`
	AppID     string `json:"appId"`
	ProjectID string `json:"projectId"`
}

// EnvironmentProvider supplies the current environment.
type EnvironmentProvider interface {
	Get() Environment
}

// StaticEnvironment is an EnvironmentProvider returning a fixed value.
type StaticEnvironment Environment

// Get returns the fixed environment.
func (e StaticEnvironment) Get() Environment {
	return Environment(e)
}
