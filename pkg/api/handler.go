package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	ethcommon "github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/sirupsen/logrus"

	"github.com/ethpandaops/call-tracer/pkg/ethereum"
	"github.com/ethpandaops/call-tracer/pkg/processor"
	c "github.com/ethpandaops/call-tracer/pkg/processor/common"
	"github.com/ethpandaops/call-tracer/pkg/processor/transaction/call_trace"
)

const (
	maxBulkBlocks = 1000
)

// Tracer is the processor surface served over HTTP.
type Tracer interface {
	TraceTransaction(ctx context.Context, hash ethcommon.Hash) (*call_trace.Result, error)
	EnqueueBlock(ctx context.Context, blockNumber uint64) error
	Queue() string
}

// TracerResolver returns the tracer, or an error while it is not available yet.
type TracerResolver func() (Tracer, error)

type Handler struct {
	log     logrus.FieldLogger
	resolve TracerResolver
}

func NewHandler(log logrus.FieldLogger, resolve TracerResolver) *Handler {
	return &Handler{
		log:     log.WithField("component", "api"),
		resolve: resolve,
	}
}

func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/v1/trace/{tx_hash}", h.traceTransaction)
	mux.HandleFunc("POST /api/v1/queue/block/{block_number}", h.queueSingleBlock)
	mux.HandleFunc("POST /api/v1/queue/blocks", h.queueMultipleBlocks)
}

//nolint:tagliatelle // snake_case API responses
type SingleBlockResponse struct {
	Status      string `json:"status"`
	BlockNumber uint64 `json:"block_number"`
	Queue       string `json:"queue"`
}

//nolint:tagliatelle // snake_case API responses
type BlockResult struct {
	BlockNumber uint64 `json:"block_number"`
	Status      string `json:"status"`
	Error       string `json:"error,omitempty"`
}

type BulkBlocksRequest struct {
	Blocks []uint64 `json:"blocks"`
}

type BulkBlocksResponse struct {
	Status  string `json:"status"`
	Queue   string `json:"queue"`
	Summary struct {
		Total   int `json:"total"`
		Queued  int `json:"queued"`
		Skipped int `json:"skipped"`
		Failed  int `json:"failed"`
	} `json:"summary"`
	Results []BlockResult `json:"results"`
}

//nolint:tagliatelle // snake_case API responses
type ErrorResponse struct {
	Error           string `json:"error"`
	BlockNumber     any    `json:"block_number,omitempty"`
	TransactionHash string `json:"transaction_hash,omitempty"`
}

func (h *Handler) traceTransaction(w http.ResponseWriter, r *http.Request) {
	raw := r.PathValue("tx_hash")

	decoded, err := hexutil.Decode(raw)
	if err != nil || len(decoded) != ethcommon.HashLength {
		h.writeError(w, http.StatusBadRequest, "invalid transaction hash", nil, raw)

		return
	}

	hash := ethcommon.BytesToHash(decoded)

	tracer, err := h.resolve()
	if err != nil {
		h.writeError(w, http.StatusServiceUnavailable, err.Error(), nil, hash.Hex())

		return
	}

	result, err := tracer.TraceTransaction(r.Context(), hash)
	if err != nil {
		h.log.WithError(err).WithField("tx_hash", hash.Hex()).Debug("Trace request failed")
		h.writeError(w, statusFor(err), err.Error(), nil, hash.Hex())

		return
	}

	h.writeJSON(w, http.StatusOK, result)
}

func (h *Handler) queueSingleBlock(w http.ResponseWriter, r *http.Request) {
	blockNumberStr := r.PathValue("block_number")

	blockNumber, err := strconv.ParseUint(blockNumberStr, 10, 64)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid block number format", blockNumberStr, "")

		return
	}

	tracer, err := h.resolve()
	if err != nil {
		h.writeError(w, http.StatusServiceUnavailable, err.Error(), blockNumber, "")

		return
	}

	if err := tracer.EnqueueBlock(r.Context(), blockNumber); err != nil {
		h.writeError(w, statusFor(err), err.Error(), blockNumber, "")

		return
	}

	h.writeJSON(w, http.StatusOK, SingleBlockResponse{
		Status:      "queued",
		BlockNumber: blockNumber,
		Queue:       tracer.Queue(),
	})
}

func (h *Handler) queueMultipleBlocks(w http.ResponseWriter, r *http.Request) {
	var req BulkBlocksRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid request body", nil, "")

		return
	}

	if len(req.Blocks) == 0 {
		h.writeError(w, http.StatusBadRequest, "no blocks provided", nil, "")

		return
	}

	if len(req.Blocks) > maxBulkBlocks {
		h.writeError(w, http.StatusRequestEntityTooLarge, fmt.Sprintf("too many blocks (limit: %d)", maxBulkBlocks), nil, "")

		return
	}

	tracer, err := h.resolve()
	if err != nil {
		h.writeError(w, http.StatusServiceUnavailable, err.Error(), nil, "")

		return
	}

	ctx := r.Context()
	response := BulkBlocksResponse{
		Queue:   tracer.Queue(),
		Results: make([]BlockResult, 0, len(req.Blocks)),
	}

	response.Summary.Total = len(req.Blocks)

	for _, blockNumber := range req.Blocks {
		err := tracer.EnqueueBlock(ctx, blockNumber)

		switch {
		case err == nil:
			response.Results = append(response.Results, BlockResult{BlockNumber: blockNumber, Status: "queued"})
			response.Summary.Queued++
		case errors.Is(err, c.ErrDuplicateTask):
			response.Results = append(response.Results, BlockResult{BlockNumber: blockNumber, Status: "skipped", Error: err.Error()})
			response.Summary.Skipped++
		default:
			response.Results = append(response.Results, BlockResult{BlockNumber: blockNumber, Status: "failed", Error: err.Error()})
			response.Summary.Failed++
		}
	}

	switch {
	case response.Summary.Failed > 0 && response.Summary.Queued > 0:
		response.Status = "partial"
		h.writeJSON(w, http.StatusMultiStatus, response)
	case response.Summary.Failed > 0:
		response.Status = "failed"
		h.writeJSON(w, http.StatusInternalServerError, response)
	default:
		response.Status = "queued"
		h.writeJSON(w, http.StatusOK, response)
	}
}

// statusFor maps processor errors to HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, ethereum.ErrTransactionNotFound), errors.Is(err, ethereum.ErrBlockNotFound):
		return http.StatusNotFound
	case errors.Is(err, c.ErrDuplicateTask):
		return http.StatusConflict
	case errors.Is(err, ethereum.ErrNoHealthyNode),
		errors.Is(err, processor.ErrNotReady),
		errors.Is(err, call_trace.ErrStorageDisabled),
		errors.Is(err, call_trace.ErrNoQueue):
		return http.StatusServiceUnavailable
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.log.WithError(err).Error("failed to encode response")
	}
}

func (h *Handler) writeError(w http.ResponseWriter, status int, message string, blockNumber any, txHash string) {
	resp := ErrorResponse{
		Error:           message,
		TransactionHash: txHash,
	}

	if blockNumber != nil {
		resp.BlockNumber = blockNumber
	}

	h.writeJSON(w, status, resp)
}
