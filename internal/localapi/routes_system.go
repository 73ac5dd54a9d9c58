package localapi

import "net/http"

func (s *Server) registerSystemRoutes() {
	s.mux.HandleFunc("/api/v1/system/doctor", s.handleSystemDoctor)
}

func (s *Server) handleSystemDoctor(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		respondError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "method not allowed")
		return
	}
	if s.deps.Doctor == nil {
		respondError(w, http.StatusInternalServerError, "DOCTOR_UNAVAILABLE", "doctor is not configured")
		return
	}
	respondOK(w, s.deps.Doctor(r.Context()))
}
