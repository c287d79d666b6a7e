package orchestrator

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/MrWong99/voiceform/pkg/store"
)

// persister writes session records and skips a write whose content is
// byte-identical to the last successful one.
type persister struct {
	store   store.Store
	timeout time.Duration

	mu   sync.Mutex
	last []byte
}

// save stores rec unless nothing changed since the last save. It reports
// whether a write happened. Cancellation of ctx does not abort the write.
func (p *persister) save(ctx context.Context, rec store.Record) (bool, error) {
	if p.store == nil {
		return false, nil
	}
	body, err := json.Marshal(struct {
		Form any `json:"form"`
		Log  any `json:"log"`
	}{rec.Form, rec.Log})
	if err != nil {
		return false, fmt.Errorf("orchestrator: encode record: %w", err)
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.last != nil && bytes.Equal(body, p.last) {
		return false, nil
	}

	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), p.timeout)
	defer cancel()
	if err := p.store.Save(ctx, rec); err != nil {
		return false, fmt.Errorf("orchestrator: persist session %s: %w", rec.SessionID, err)
	}
	p.last = body
	return true, nil
}
