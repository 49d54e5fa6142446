package permissions

import "context"

// ConnectionStatus is the state of a connection between two users
type ConnectionStatus string

const (
	ConnectionNone     ConnectionStatus = "none"
	ConnectionPending  ConnectionStatus = "pending"
	ConnectionAccepted ConnectionStatus = "accepted"
)

// Connection actions a user can take from the UI
const (
	ActionRequest = "request"
	ActionAccept  = "accept"
	ActionDecline = "decline"
	ActionCancel  = "cancel"
)

// AvailableAction is one action offered to the viewer for a connection
type AvailableAction struct {
	Action        string `json:"action"`
	Enabled       bool   `json:"enabled"`
	Reason        string `json:"reason,omitempty"`
	UpgradePrompt bool   `json:"upgradePrompt"`
}

// ConnectionManager maps the connection state machine onto the service's
// request/respond permission model.
type ConnectionManager struct {
	service *Service
}

// NewConnectionManager creates a manager backed by service
func NewConnectionManager(service *Service) *ConnectionManager {
	return &ConnectionManager{service: service}
}

// AvailableActions lists the actions userID may see for a connection in status.
// isRequester tells whether userID sent the pending request.
func (m *ConnectionManager) AvailableActions(ctx context.Context, userID string, status ConnectionStatus, isRequester bool) []AvailableAction {
	switch status {
	case ConnectionNone:
		result := m.service.CheckConnectionPermission(ctx, userID, ConnectionRequest)
		return []AvailableAction{{
			Action:        ActionRequest,
			Enabled:       result.Allowed,
			Reason:        result.Reason,
			UpgradePrompt: result.UpgradePrompt,
		}}
	case ConnectionPending:
		if isRequester {
			return []AvailableAction{{Action: ActionCancel, Enabled: true}}
		}
		return []AvailableAction{
			{Action: ActionAccept, Enabled: true},
			{Action: ActionDecline, Enabled: true},
		}
	default:
		return []AvailableAction{}
	}
}

// CheckConnectionAction decides whether userID may perform a UI-level action
func (m *ConnectionManager) CheckConnectionAction(ctx context.Context, userID, action string) AccessResult {
	switch action {
	case ActionRequest:
		return m.service.CheckConnectionPermission(ctx, userID, ConnectionRequest)
	case ActionAccept, ActionDecline:
		return m.service.CheckConnectionPermission(ctx, userID, ConnectionRespond)
	case ActionCancel:
		return Allowed()
	default:
		return Denied(ReasonActionNotRecognized, false)
	}
}
