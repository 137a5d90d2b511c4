package httpapi

import (
	"errors"
	"net/http"

	"basewall.xyz/wallsign/compliance"
	"basewall.xyz/wallsign/reconcile"
	"basewall.xyz/wallsign/sigcodec"
)

type encodeRequest struct {
	Strokes []sigcodec.Stroke `json:"strokes"`
	Width   float64           `json:"width"`
	Height  float64           `json:"height"`
}

type encodeResponse struct {
	Payload reconcile.Payload `json:"payload"`
	Size    int               `json:"size"`
	CID     string            `json:"cid"`
}

type decodeRequest struct {
	Payload reconcile.Payload `json:"payload"`
	Width   float64           `json:"width"`
	Height  float64           `json:"height"`
	Mode    string            `json:"mode,omitempty"`
	// Format is "v1" or "v2"; empty sniffs the first byte.
	Format string `json:"format,omitempty"`
}

type decodeResponse struct {
	Format  string            `json:"format"`
	Strokes []sigcodec.Stroke `json:"strokes"`
}

func (s *Server) encode(w http.ResponseWriter, r *http.Request) {
	var req encodeRequest
	if err := readJSON(w, r, &req); err != nil {
		writeBodyError(w, err)
		return
	}
	b, err := sigcodec.Encode(req.Strokes, req.Width, req.Height)
	if err != nil {
		writeCodecError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, encodeResponse{Payload: b, Size: len(b), CID: sigcodec.PayloadCID(b)})
}

func (s *Server) decode(w http.ResponseWriter, r *http.Request) {
	var req decodeRequest
	if err := readJSON(w, r, &req); err != nil {
		writeBodyError(w, err)
		return
	}
	mode, err := compliance.ParseMode(req.Mode)
	if err != nil {
		writeError(w, http.StatusBadRequest, "BAD_MODE", err.Error())
		return
	}
	opts := sigcodec.DecodeOptions{Mode: mode}
	switch req.Format {
	case "":
	case sigcodec.FormatV1.String():
		opts.Format = sigcodec.FormatV1
	case sigcodec.FormatV2.String():
		opts.Format = sigcodec.FormatV2
	default:
		writeError(w, http.StatusBadRequest, "BAD_FORMAT", "format must be v1 or v2")
		return
	}

	strokes, err := sigcodec.DecodeWithOptions(req.Payload, req.Width, req.Height, opts)
	if err != nil {
		writeCodecError(w, err)
		return
	}
	format := opts.Format
	if format == 0 {
		format, _ = sigcodec.DetectFormat(req.Payload)
	}
	writeJSON(w, http.StatusOK, decodeResponse{Format: format.String(), Strokes: strokes})
}

func writeBodyError(w http.ResponseWriter, err error) {
	var tooBig *http.MaxBytesError
	if errors.As(err, &tooBig) {
		writeError(w, http.StatusRequestEntityTooLarge, "BODY_TOO_LARGE", err.Error())
		return
	}
	writeError(w, http.StatusBadRequest, "BAD_JSON", err.Error())
}

func writeCodecError(w http.ResponseWriter, err error) {
	rule := sigcodec.RuleID(err)
	switch {
	case sigcodec.IsKind(err, sigcodec.KindSizeExceeded):
		writeError(w, http.StatusRequestEntityTooLarge, rule, err.Error())
	case sigcodec.IsKind(err, sigcodec.KindMalformed), sigcodec.IsKind(err, sigcodec.KindAmbiguous):
		writeError(w, http.StatusUnprocessableEntity, rule, err.Error())
	default:
		writeError(w, http.StatusBadRequest, rule, err.Error())
	}
}
