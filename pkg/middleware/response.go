package middleware

import (
	"net/http"

	"github.com/platinummonkey/murmur/pkg/httputil"
)

// Error codes returned in denial bodies. Clients match on these.
const (
	CodeUnauthorized             = "UNAUTHORIZED"
	CodeInternalError            = "INTERNAL_ERROR"
	CodePostAccessDenied         = "POST_ACCESS_DENIED"
	CodeReflectionDenied         = "REFLECTION_DENIED"
	CodeConnectionRequestDenied  = "CONNECTION_REQUEST_DENIED"
	CodeConnectionResponseDenied = "CONNECTION_RESPONSE_DENIED"
	CodePermissionCheckError     = "PERMISSION_CHECK_ERROR"
)

// Messages for failures that carry no checker reason
const (
	MessageAuthRequired     = "Autenticação necessária"
	MessageInternalError    = "Erro interno do servidor"
	MessagePermissionCheck  = "Erro ao verificar permissões"
	reasonHandlerFailure    = "handler failure"
	reasonPermissionFailure = "permission check failure"
)

// ErrorResponse is the body of every denial and failure
type ErrorResponse struct {
	Error         string `json:"error"`
	UpgradePrompt bool   `json:"upgradePrompt"`
	Code          string `json:"code"`
}

// WriteDenial writes an ErrorResponse with status
func WriteDenial(w http.ResponseWriter, status int, code, message string, upgradePrompt bool) {
	httputil.WriteJSON(w, status, ErrorResponse{
		Error:         message,
		UpgradePrompt: upgradePrompt,
		Code:          code,
	})
}
