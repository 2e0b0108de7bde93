package credits

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"genstudio/internal/domain"
)

// HTTPRecharger posts triggers to the billing service.
type HTTPRecharger struct {
	url    string
	client *http.Client
}

func NewHTTPRecharger(url string, timeout time.Duration) *HTTPRecharger {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &HTTPRecharger{url: strings.TrimSpace(url), client: &http.Client{Timeout: timeout}}
}

func (r *HTTPRecharger) Trigger(ctx context.Context, t domain.RechargeTrigger) error {
	body, err := json.Marshal(t)
	if err != nil {
		return fmt.Errorf("encode recharge trigger: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build recharge request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := r.client.Do(req)
	if err != nil {
		return fmt.Errorf("recharge request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("recharge service returned %d: %s", resp.StatusCode, strings.TrimSpace(string(msg)))
	}
	return nil
}

// LogRecharger only logs triggers. Used when no recharge service is configured.
type LogRecharger struct {
	Logger zerolog.Logger
}

func (r LogRecharger) Trigger(ctx context.Context, t domain.RechargeTrigger) error {
	r.Logger.Warn().Str("user_id", t.UserID).Str("pack_id", t.PackID).Msg("recharge service not configured, trigger dropped")
	return nil
}
