package health

import "net/http"

// Handler answers 200 with body when p passes, 503 with the probe's reason
// otherwise. A nil probe always passes.
func Handler(p Probe, body string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Cache-Control", "no-store")
		if p != nil {
			if err := p.Check(r.Context()); err != nil {
				http.Error(w, err.Error()+"\n", http.StatusServiceUnavailable)
				return
			}
		}
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(body + "\n"))
	}
}

// HealthzHandler: 200 ok while the process is serving.
func HealthzHandler(p Probe) http.HandlerFunc { return Handler(p, "ok") }

// ReadyzHandler: 200 ready once p passes.
func ReadyzHandler(p Probe) http.HandlerFunc { return Handler(p, "ready") }
