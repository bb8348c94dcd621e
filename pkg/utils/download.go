package utils

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"

	"github.com/zhaopengme/dingclaw/pkg/logger"
)

// DownloadToFile streams an HTTP response body into a temp file so that
// large vendor media never has to fit in memory. maxBytes of 0 means no
// limit. Returns the temp path and the response Content-Type. The caller
// owns the path and must remove it; on error the partial file is already
// gone.
func DownloadToFile(ctx context.Context, client *http.Client, req *http.Request, maxBytes int64) (string, string, error) {
	req = req.WithContext(ctx)

	resp, err := client.Do(req)
	if err != nil {
		return "", "", fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		head := make([]byte, 512)
		n, _ := io.ReadFull(resp.Body, head)
		return "", "", fmt.Errorf("HTTP %d: %s", resp.StatusCode, string(head[:n]))
	}

	contentType := resp.Header.Get("Content-Type")

	tmpFile, err := os.CreateTemp("", "dingclaw-dl-*")
	if err != nil {
		return "", "", fmt.Errorf("create temp file: %w", err)
	}
	tmpPath := tmpFile.Name()

	discard := func() {
		_ = tmpFile.Close()
		_ = os.Remove(tmpPath)
	}

	var src io.Reader = resp.Body
	if maxBytes > 0 {
		src = io.LimitReader(resp.Body, maxBytes+1) // +1 to detect overflow
	}

	written, err := io.Copy(tmpFile, src)
	if err != nil {
		discard()
		return "", "", fmt.Errorf("write failed: %w", err)
	}
	if maxBytes > 0 && written > maxBytes {
		discard()
		return "", "", fmt.Errorf("download too large: %d bytes (max %d)", written, maxBytes)
	}

	if err := tmpFile.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return "", "", fmt.Errorf("close temp file: %w", err)
	}

	logger.DebugCF("download", "Download complete", map[string]interface{}{
		"path":  tmpPath,
		"bytes": written,
	})

	return tmpPath, contentType, nil
}
