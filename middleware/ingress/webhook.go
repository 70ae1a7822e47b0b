package ingress

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"

	"cdr.dev/slog/v3"

	"webhook-gateway/middleware/ingress/application"
	"webhook-gateway/middleware/ingress/domain"
)

const maxWebhookBody = 1 << 20

// Enqueuer é a parte do Buffer usada pelo webhook.
type Enqueuer interface {
	EnqueueFragment(ctx context.Context, tenant domain.TenantID, conv domain.ConversationID, text string) (application.EnqueueResult, error)
}

// WebhookEvent é o corpo aceito pelo webhook, já com o texto extraído
// (transcrição de áudio e parsing do provedor ficam antes deste ponto).
type WebhookEvent struct {
	Conversation string `json:"conversation"`
	Text         string `json:"text"`
}

type webhookResponse struct {
	Status string `json:"status"`
	Leader bool   `json:"leader,omitempty"`
}

// WebhookHandler grava o fragmento no buffer e responde na hora; o flush
// acontece fora da requisição. Deve rodar atrás do Middleware de admissão.
func WebhookHandler(buf Enqueuer, tenantFn TenantFunc, logger slog.Logger) http.Handler {
	if tenantFn == nil {
		tenantFn = DefaultTenantFunc("")
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tenant := tenantFn(r)
		if tenant == "" {
			http.Error(w, "missing tenant", http.StatusBadRequest)
			return
		}

		var ev WebhookEvent
		if err := json.NewDecoder(io.LimitReader(r.Body, maxWebhookBody)).Decode(&ev); err != nil {
			http.Error(w, "invalid payload", http.StatusBadRequest)
			return
		}
		conv := strings.TrimSpace(ev.Conversation)
		if conv == "" {
			http.Error(w, "missing conversation", http.StatusBadRequest)
			return
		}
		if strings.TrimSpace(ev.Text) == "" {
			writeJSON(w, http.StatusOK, webhookResponse{Status: "no_text"})
			return
		}

		res, err := buf.EnqueueFragment(r.Context(), tenant, domain.ConversationID(conv), ev.Text)
		if err != nil {
			logger.Warn(r.Context(), "enqueue fragment",
				slog.F("tenant", tenant),
				slog.F("conversation", conv),
				slog.Error(err),
			)
			writeJSON(w, http.StatusServiceUnavailable, webhookResponse{Status: "error"})
			return
		}
		writeJSON(w, http.StatusAccepted, webhookResponse{Status: "buffered", Leader: res.Leader})
	})
}
