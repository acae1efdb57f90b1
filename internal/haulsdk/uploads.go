package haulsdk

import (
	"bytes"
	"context"
	"fmt"
	"net/http"

	"github.com/imroc/req/v3"
)

const (
	v1Uploads      = "/api/v1/uploads"
	v1UploadByID   = "/api/v1/uploads/{uploadId}"
	v1UploadChunk  = "/api/v1/uploads/{uploadId}/chunks/{index}"
	paramUploadID  = "uploadId"
	paramChunkIdx  = "index"
)

// UploadsAPI talks to the chunk-receiving server.
type UploadsAPI struct {
	client *req.Client
}

func newUploadsAPI(client *req.Client) *UploadsAPI {
	return &UploadsAPI{
		client: client,
	}
}

// Create registers an upload and returns the canonical upload id along with
// any chunk indices the server already holds for it.
func (u *UploadsAPI) Create(ctx context.Context, params *CreateUploadRequest) (apiResp *CreateUploadResponse, err error) {
	resp, err := u.client.R().
		SetContext(ctx).
		SetBody(params).
		SetSuccessResult(&apiResp).
		Post(v1Uploads)

	if err := handleAPIError(resp, err, "upload create"); err != nil {
		return nil, err
	}

	if apiResp == nil || apiResp.UploadID == "" {
		return nil, fmt.Errorf("upload create: invalid response")
	}
	return apiResp, nil
}

// SendChunk writes one chunk. A 409 means the index was already acked and is
// treated as success, since a resume may race with a late-arriving ack.
func (u *UploadsAPI) SendChunk(ctx context.Context, uploadID string, index int, data []byte) (apiResp *ChunkAckResponse, err error) {
	resp, err := u.client.R().
		SetContext(ctx).
		SetPathParam(paramUploadID, uploadID).
		SetPathParam(paramChunkIdx, fmt.Sprintf("%d", index)).
		SetContentType("application/octet-stream").
		SetBody(bytes.NewReader(data)).
		SetSuccessResult(&apiResp).
		Put(v1UploadChunk)

	if err == nil && resp.StatusCode == http.StatusConflict {
		// already acked, a no-op success
		return &ChunkAckResponse{UploadID: uploadID, AckedIndex: index}, nil
	}

	if err := handleAPIError(resp, err, "chunk send"); err != nil {
		return nil, err
	}

	if apiResp == nil {
		return nil, fmt.Errorf("chunk send: invalid response")
	}
	return apiResp, nil
}

// Status fetches the server-side view of an upload, used to reconcile after restore.
func (u *UploadsAPI) Status(ctx context.Context, uploadID string) (apiResp *UploadStatusResponse, err error) {
	resp, err := u.client.R().
		SetContext(ctx).
		SetPathParam(paramUploadID, uploadID).
		SetSuccessResult(&apiResp).
		Get(v1UploadByID)

	if err := handleAPIError(resp, err, "upload status"); err != nil {
		return nil, err
	}

	return apiResp, nil
}

// Delete discards the server-side upload and any partial data.
func (u *UploadsAPI) Delete(ctx context.Context, uploadID string) (apiResp *DeleteUploadResponse, err error) {
	resp, err := u.client.R().
		SetContext(ctx).
		SetPathParam(paramUploadID, uploadID).
		SetSuccessResult(&apiResp).
		Delete(v1UploadByID)

	if err := handleAPIError(resp, err, "upload delete"); err != nil {
		return nil, err
	}

	return apiResp, nil
}
