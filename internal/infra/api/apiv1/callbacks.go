package apiv1

import (
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"

	"mpesa-settlement/internal/infra/logging"
	"mpesa-settlement/internal/infra/metrics"
	"mpesa-settlement/internal/usecase"
)

const maxCallbackBody = 1 << 20

// callbackAck is the body M-Pesa expects back from a callback URL.
type callbackAck struct {
	ResultCode int    `json:"ResultCode"`
	ResultDesc string `json:"ResultDesc"`
}

// mpesaCallback always answers 200. A refused delivery is signalled with ResultCode 1 only;
// a non-2xx would make the provider retry a body that will never be accepted.
func (s *Server) mpesaCallback(w http.ResponseWriter, r *http.Request) {
	raw, err := io.ReadAll(io.LimitReader(r.Body, maxCallbackBody))
	if err != nil {
		l := logging.With(r.Context(), s.log)
		l.Warn().Err(err).Msg("callback body read failed")
	}

	ack := s.callbacks.Reconcile(r.Context(), raw, chi.URLParam(r, "token"))
	recordAck(ack)

	out := callbackAck{ResultCode: 0, ResultDesc: ack.Description}
	if !ack.Accepted {
		out.ResultCode = 1
	}
	writeJSON(w, http.StatusOK, out)
}

func recordAck(ack usecase.Ack) {
	metrics.IncCallback(string(ack.Outcome))
	if ack.SubjectResult != "" {
		metrics.IncSettlementApplied(string(ack.Purpose), ack.SubjectResult)
	}
	if ack.SettledAmount > 0 {
		metrics.AddSettledRevenue(string(ack.Purpose), ack.SettledAmount)
	}
}
