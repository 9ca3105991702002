package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"sort"

	"github.com/adred-codev/ws_poc/internal/delta"
	"github.com/adred-codev/ws_poc/internal/errs"
	"github.com/adred-codev/ws_poc/internal/hlc"
	"github.com/adred-codev/ws_poc/internal/objectstore"
	"github.com/adred-codev/ws_poc/internal/wsproto"
	"github.com/go-chi/chi/v5"
)

// checkpointManifest is the persisted layout's manifest.json shape.
type checkpointManifest struct {
	SnapshotHLC hlc.Timestamp `json:"snapshotHlc,string"`
	Chunks      []string      `json:"chunks"`
	ChunkCount  int           `json:"chunkCount"`
}

// decodeCheckpointChunk strips the tag-0x03 byte a persisted checkpoint
// chunk carries and decodes the remaining SyncResponse frame.
func decodeCheckpointChunk(body []byte) ([]delta.Delta, error) {
	if len(body) < 1 {
		return nil, nil
	}
	resp, err := wsproto.DecodeSyncResponse(body[1:])
	if err != nil {
		return nil, err
	}
	return resp.Deltas, nil
}

// encodeCheckpointResponse re-frames merged deltas as a single binary
// SyncResponse, tag byte included.
func encodeCheckpointResponse(deltas []delta.Delta) ([]byte, error) {
	return wsproto.EncodeSyncResponse(wsproto.SyncResponse{Deltas: deltas, ServerHLC: maxHLC(deltas)})
}

func maxHLC(deltas []delta.Delta) hlc.Timestamp {
	var max hlc.Timestamp
	for _, d := range deltas {
		if d.HLC > max {
			max = d.HLC
		}
	}
	return max
}

// handleCheckpoint serves the persisted checkpoint layout: a manifest
// naming an ordered list of binary SyncResponse chunks under
// checkpoints/<gatewayId>/. Checkpoint generation is out of band; this
// path only ever reads what an external process already wrote.
func (s *Server) handleCheckpoint(w http.ResponseWriter, r *http.Request) {
	gatewayID := chi.URLParam(r, "gatewayId")

	if s.Shard != nil {
		status, respBody, checkpointHLC := s.Shard.ShardedCheckpoint(r.Context(), decodeCheckpointChunk, encodeCheckpointResponse)
		w.Header().Set("X-Checkpoint-Hlc", checkpointHLC.String())
		writeRawBinary(w, status, respBody)
		return
	}

	session := s.Lookup(gatewayID)
	store := session.Store()

	manifestBytes, err := store.Get(r.Context(), "checkpoints/"+gatewayID+"/manifest.json")
	if errors.Is(err, objectstore.ErrNotFound) {
		writeError(w, errs.KindNotFound, "no checkpoint for this gateway")
		return
	}
	if err != nil {
		writeErrFrom(w, err)
		return
	}

	var manifest checkpointManifest
	if err := json.Unmarshal(manifestBytes, &manifest); err != nil {
		writeError(w, errs.KindInternal, "malformed checkpoint manifest")
		return
	}

	var merged []delta.Delta
	for _, chunkName := range manifest.Chunks {
		chunkBytes, err := store.Get(r.Context(), "checkpoints/"+gatewayID+"/"+chunkName)
		if err != nil {
			writeErrFrom(w, err)
			return
		}
		deltas, err := decodeCheckpointChunk(chunkBytes)
		if err != nil {
			writeError(w, errs.KindInternal, "malformed checkpoint chunk")
			return
		}
		merged = append(merged, deltas...)
	}

	sort.SliceStable(merged, func(i, j int) bool { return merged[i].HLC < merged[j].HLC })

	out, err := wsproto.EncodeSyncResponse(wsproto.SyncResponse{Deltas: merged, ServerHLC: manifest.SnapshotHLC})
	if err != nil {
		writeError(w, errs.KindInternal, "failed to encode checkpoint response")
		return
	}

	w.Header().Set("X-Checkpoint-Hlc", manifest.SnapshotHLC.String())
	writeRawBinary(w, http.StatusOK, out)
}

func writeRawBinary(w http.ResponseWriter, status int, body []byte) {
	w.Header().Set("Content-Type", "application/octet-stream")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	w.Write(body)
}
