package star

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"io"
	"time"

	"github.com/pkg/errors"
	"github.com/valyala/fasthttp"

	"github.com/saworbit/orbit-sub002/cmn/cos"
	"github.com/saworbit/orbit-sub002/fingerprint"
	"github.com/saworbit/orbit-sub002/ioa"
)

// ReplicateRequest/Response is the one mandatory node-to-node RPC spec.md
// §6 names: the recruit opens a connection to the source node,
// authenticates with the token, streams the file into dest_path, and
// returns the byte count and checksum.
type ReplicateRequest struct {
	SourceAddr string `json:"source_addr"`
	SourcePath string `json:"source_path"`
	DestPath   string `json:"dest_path"`
	Token      string `json:"transfer_token"`
}

type ReplicateResponse struct {
	Success          bool   `json:"success"`
	BytesTransferred uint64 `json:"bytes_transferred"`
	Checksum         string `json:"checksum"`
	Error            string `json:"error,omitempty"`
}

const replicatePath = "/v1/replicate"

// RPCClient issues replicate calls against other nodes over fasthttp, the
// teacher's go.mod transport library.
type RPCClient struct {
	client *fasthttp.Client
}

func NewRPCClient() *RPCClient {
	return &RPCClient{client: &fasthttp.Client{
		ReadTimeout:  10 * time.Minute, // long-haul profile: a replicate can stream for a while
		WriteTimeout: 10 * time.Minute,
	}}
}

// Replicate calls recruitAddr's /v1/replicate endpoint and blocks until
// it completes or ctx is done.
func (c *RPCClient) Replicate(ctx context.Context, recruitAddr string, req ReplicateRequest) (ReplicateResponse, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return ReplicateResponse{}, cos.Tag(cos.KindPermanent, err)
	}

	httpReq := fasthttp.AcquireRequest()
	httpResp := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseRequest(httpReq)
	defer fasthttp.ReleaseResponse(httpResp)

	httpReq.Header.SetMethod("POST")
	httpReq.SetRequestURI("http://" + recruitAddr + replicatePath)
	httpReq.Header.SetContentType("application/json")
	httpReq.SetBody(body)

	if deadline, ok := ctx.Deadline(); ok {
		err = c.client.DoDeadline(httpReq, httpResp, deadline)
	} else {
		err = c.client.Do(httpReq, httpResp)
	}
	if err != nil {
		return ReplicateResponse{}, cos.Tag(cos.KindTransient, errors.Wrap(err, "star: replicate rpc"))
	}

	var resp ReplicateResponse
	if err := json.Unmarshal(httpResp.Body(), &resp); err != nil {
		return ReplicateResponse{}, cos.Tag(cos.KindCorruption, errors.Wrap(err, "star: decode replicate response"))
	}
	return resp, nil
}

// ReplicateHandler serves the recruit side of the RPC: validate the
// token, stream source bytes from the issuing node into destPath on the
// local driver, and report the resulting checksum.
type ReplicateHandler struct {
	Issuer *TokenIssuer
	Client *RPCClient
	Local  ioa.Driver
}

// Handle implements the recruit's half of replicate: it fetches the
// source bytes (in this design, the source node's I/O driver is reached
// the same way the local backend reaches any remote — through ioa.Driver
// — so the handler's caller supplies a Driver bound to sourceAddr; this
// keeps the RPC layer backend-agnostic per spec.md §4.11) and writes them
// through Local.
func (h *ReplicateHandler) Handle(ctx context.Context, source ioa.Driver, req ReplicateRequest) ReplicateResponse {
	if err := h.Issuer.Validate(req.Token, req.SourceAddr, req.SourcePath); err != nil {
		return ReplicateResponse{Success: false, Error: err.Error()}
	}

	meta, err := source.Metadata(ctx, req.SourcePath)
	if err != nil {
		return ReplicateResponse{Success: false, Error: err.Error()}
	}

	r, err := source.NewReader(ctx, req.SourcePath, 0, 0)
	if err != nil {
		return ReplicateResponse{Success: false, Error: err.Error()}
	}
	defer r.Close()

	w, err := h.Local.NewWriter(ctx, req.DestPath, 0, false)
	if err != nil {
		return ReplicateResponse{Success: false, Error: err.Error()}
	}

	hasher := fingerprint.NewHasher()
	buf := make([]byte, 256*1024)
	var total uint64
	for {
		n, rerr := r.Read(buf)
		if n > 0 {
			hasher.Write(buf[:n])
			if _, werr := w.Write(buf[:n]); werr != nil {
				w.Close()
				return ReplicateResponse{Success: false, Error: werr.Error()}
			}
			total += uint64(n)
		}
		if rerr == io.EOF {
			break
		}
		if rerr != nil {
			w.Close()
			return ReplicateResponse{Success: false, Error: rerr.Error()}
		}
	}
	if err := w.Close(); err != nil {
		return ReplicateResponse{Success: false, Error: err.Error()}
	}
	if int64(total) != meta.Size {
		return ReplicateResponse{Success: false, Error: "star: short read from source"}
	}

	sum := hasher.Sum()
	return ReplicateResponse{Success: true, BytesTransferred: total, Checksum: hex.EncodeToString(sum[:])}
}
