package dingtalk

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	"github.com/zhaopengme/dingclaw/pkg/logger"
	"github.com/zhaopengme/dingclaw/pkg/utils"
)

// MediaFile is a downloaded inbound attachment on local disk.
type MediaFile struct {
	Path     string
	MimeType string
}

const mib = 1 << 20

// uploadLimits are DingTalk's per-type upload ceilings. A file exactly at
// the limit is accepted.
var uploadLimits = map[string]int64{
	"image": 20 * mib,
	"video": 20 * mib,
	"file":  20 * mib,
	"voice": 2 * mib,
}

// SetMediaDir overrides where downloaded media is stored (defaults to a
// per-process scratch dir under os.TempDir()).
func (c *Client) SetMediaDir(dir string) {
	c.mediaDir = dir
}

func (c *Client) mediaScratchDir() (string, error) {
	dir := c.mediaDir
	if dir == "" {
		dir = filepath.Join(os.TempDir(), "dingclaw-media")
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", err
	}
	return dir, nil
}

// DownloadMedia exchanges a download code for a short-lived URL, fetches
// the binary and persists it under the scratch dir. The caller owns the
// returned file and removes it after the reply cycle.
func (c *Client) DownloadMedia(ctx context.Context, downloadCode string) (*MediaFile, error) {
	if downloadCode == "" {
		return nil, errors.New("downloadCode is required")
	}
	if c.robotCode == "" {
		return nil, errors.New("robotCode is required")
	}

	token, err := c.tokens.Token(ctx)
	if err != nil {
		return nil, fmt.Errorf("get token: %w", err)
	}

	reqBody, _ := json.Marshal(map[string]string{
		"downloadCode": downloadCode,
		"robotCode":    c.robotCode,
	})

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.apiBase+"/v1.0/robot/messageFiles/download", bytes.NewReader(reqBody))
	if err != nil {
		return nil, fmt.Errorf("create download request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-acs-dingtalk-access-token", token)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("download request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("download failed: %d - %s", resp.StatusCode, string(body))
	}

	var downloadResp struct {
		DownloadURL string `json:"downloadUrl"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&downloadResp); err != nil {
		return nil, fmt.Errorf("decode download response: %w", err)
	}
	if downloadResp.DownloadURL == "" {
		return nil, errors.New("downloadUrl is empty in response")
	}

	fileReq, err := http.NewRequest(http.MethodGet, downloadResp.DownloadURL, nil)
	if err != nil {
		return nil, fmt.Errorf("create fetch request: %w", err)
	}
	tmpPath, contentType, err := utils.DownloadToFile(ctx, c.httpClient, fileReq, 0)
	if err != nil {
		return nil, fmt.Errorf("fetch file: %w", err)
	}

	if contentType == "" {
		contentType = "application/octet-stream"
	}

	dir, err := c.mediaScratchDir()
	if err != nil {
		os.Remove(tmpPath)
		return nil, fmt.Errorf("create media dir: %w", err)
	}

	mediaPath := filepath.Join(dir, uuid.New().String()+"."+extFromContentType(contentType))
	if err := os.Rename(tmpPath, mediaPath); err != nil {
		os.Remove(tmpPath)
		return nil, fmt.Errorf("move media file: %w", err)
	}

	logger.DebugCF("dingtalk", "Media downloaded", map[string]interface{}{
		"path": mediaPath,
		"mime": contentType,
	})
	return &MediaFile{Path: mediaPath, MimeType: contentType}, nil
}

// extFromContentType turns "image/jpeg; charset=binary" into "jpeg".
func extFromContentType(contentType string) string {
	_, sub, ok := strings.Cut(contentType, "/")
	if !ok {
		return "bin"
	}
	sub, _, _ = strings.Cut(sub, ";")
	sub = strings.TrimSpace(sub)
	if sub == "" {
		return "bin"
	}
	return sub
}

// UploadMedia streams a local file to the media upload endpoint and
// returns the vendor media identifier. Files above the per-type ceiling
// are rejected before any network traffic.
func (c *Client) UploadMedia(ctx context.Context, path, mediaType string) (string, error) {
	limit, ok := uploadLimits[mediaType]
	if !ok {
		return "", fmt.Errorf("unsupported media type %q", mediaType)
	}

	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return "", fmt.Errorf("media file not found: %s", path)
		}
		return "", fmt.Errorf("stat media file: %w", err)
	}
	if info.Size() > limit {
		return "", fmt.Errorf("media file too large: %d bytes (max %d for %s)", info.Size(), limit, mediaType)
	}

	token, err := c.tokens.Token(ctx)
	if err != nil {
		return "", fmt.Errorf("get token: %w", err)
	}

	file, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("open media file: %w", err)
	}
	defer file.Close()

	var body bytes.Buffer
	writer := multipart.NewWriter(&body)
	part, err := writer.CreateFormFile("media", filepath.Base(path))
	if err != nil {
		return "", fmt.Errorf("create form file: %w", err)
	}
	if _, err := io.Copy(part, file); err != nil {
		return "", fmt.Errorf("read media file: %w", err)
	}
	if err := writer.Close(); err != nil {
		return "", err
	}

	uploadURL := fmt.Sprintf("%s/media/upload?access_token=%s&type=%s", c.oapiBase, token, mediaType)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, uploadURL, &body)
	if err != nil {
		return "", fmt.Errorf("create upload request: %w", err)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("upload request failed: %w", err)
	}
	defer resp.Body.Close()

	var result struct {
		ErrCode int    `json:"errcode"`
		ErrMsg  string `json:"errmsg"`
		MediaID string `json:"media_id"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", fmt.Errorf("decode upload response: %w", err)
	}
	if result.ErrCode != 0 {
		return "", fmt.Errorf("upload API error: %s (code: %d)", result.ErrMsg, result.ErrCode)
	}

	logger.DebugCF("dingtalk", "Media uploaded", map[string]interface{}{
		"media_id": result.MediaID,
		"type":     mediaType,
	})
	return result.MediaID, nil
}
