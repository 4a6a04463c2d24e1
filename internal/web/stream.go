package web

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/vadiminshakov/siapay/internal/events"
)

// handleEntryStream replays ledger entries after ?after= (default 0) and then
// follows the ledger. A broadcast event triggers an immediate read; the poll
// ticker picks up entries written by other processes.
func (s *Server) handleEntryStream(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	lastIndex := uint64(0)
	if after := r.URL.Query().Get("after"); after != "" {
		v, err := strconv.ParseUint(after, 10, 64)
		if err != nil {
			writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid after %q", after))
			return
		}
		lastIndex = v
	}

	var wake chan events.EntryRecorded
	if s.broadcaster != nil {
		wake = s.broadcaster.Subscribe()
		defer s.broadcaster.Unsubscribe(wake)
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	heartbeat := time.NewTicker(heartbeatInterval)
	defer heartbeat.Stop()

	pollTicker := time.NewTicker(entryPollInterval)
	defer pollTicker.Stop()

	sendEntries := func(ctx context.Context) error {
		records, err := s.ledger.EntriesAfter(ctx, lastIndex)
		if err != nil {
			return err
		}
		for _, record := range records {
			payload, err := json.Marshal(record.Entry)
			if err != nil {
				return err
			}
			fmt.Fprintf(w, "id: %d\n", record.Index)
			fmt.Fprintf(w, "event: %s\n", record.Entry.Kind)
			fmt.Fprintf(w, "data: %s\n\n", payload)
			lastIndex = record.Index
		}
		if len(records) > 0 {
			flusher.Flush()
		}
		return nil
	}

	if err := sendEntries(r.Context()); err != nil {
		s.logger.Error("Entry stream initial load failed", zap.Error(err))
		http.Error(w, "failed to load entries", http.StatusInternalServerError)
		return
	}
	flusher.Flush()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-heartbeat.C:
			fmt.Fprint(w, ": ping\n\n")
			flusher.Flush()
		case <-wake:
			if err := sendEntries(r.Context()); err != nil {
				s.logger.Warn("Entry stream read failed", zap.Error(err))
			}
		case <-pollTicker.C:
			if err := sendEntries(r.Context()); err != nil {
				s.logger.Warn("Entry stream poll failed", zap.Error(err))
			}
		}
	}
}

// Minimal live view of the ledger stream.
const indexHTML = `<!DOCTYPE html>
<html lang="en">
<head>
  <meta charset="utf-8" />
  <title>siapay ledger</title>
  <style>
    body { font-family: 'Space Mono', monospace; margin: 2rem; color: #111; }
    table { border-collapse: collapse; width: 100%; }
    th, td { border-bottom: 1px solid #ddd; padding: .4rem .6rem; text-align: left; font-size: .85rem; }
    th { background: #f6f6f6; }
    .deposit { color: #1b7f3b; }
    .withdrawal { color: #b0271c; }
    .receivable { color: #555; }
  </style>
</head>
<body>
  <h1>Ledger</h1>
  <table>
    <thead><tr><th>#</th><th>kind</th><th>address</th><th>counterparty</th><th>txid</th><th>amount (SC)</th><th>height</th></tr></thead>
    <tbody id="rows"></tbody>
  </table>
  <script>
    const rows = document.getElementById('rows');
    const sc = h => {
      const neg = h.startsWith('-');
      const digits = (neg ? h.slice(1) : h).padStart(25, '0');
      const whole = digits.slice(0, -24).replace(/^0+(?=\d)/, '');
      const frac = digits.slice(-24).replace(/0+$/, '');
      return (neg ? '-' : '') + whole + (frac ? '.' + frac : '');
    };
    const add = (id, e) => {
      const tr = document.createElement('tr');
      tr.className = e.kind;
      [id, e.kind, e.local_address || '', e.counterparty_address || '', e.transaction_id || '', sc(e.amount), e.block_height]
        .forEach(v => { const td = document.createElement('td'); td.textContent = v; tr.appendChild(td); });
      rows.prepend(tr);
    };
    const es = new EventSource('/entries/stream');
    ['deposit', 'withdrawal', 'receivable'].forEach(kind =>
      es.addEventListener(kind, ev => add(ev.lastEventId, JSON.parse(ev.data))));
  </script>
</body>
</html>`
