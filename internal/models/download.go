package models

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
)

// download fetches url into dest through a ".part" file. An existing partial
// file is resumed with a Range request; the final rename only happens after
// the body was fully written.
func (p *Provider) download(ctx context.Context, url, dest string) (int64, error) {
	part := dest + ".part"
	var offset int64
	if info, err := os.Stat(part); err == nil {
		offset = info.Size()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return 0, err
	}
	if p.token != "" {
		req.Header.Set("Authorization", "Bearer "+p.token)
	}
	if offset > 0 {
		req.Header.Set("Range", fmt.Sprintf("bytes=%d-", offset))
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	flags := os.O_CREATE | os.O_WRONLY
	switch resp.StatusCode {
	case http.StatusOK:
		flags |= os.O_TRUNC
		offset = 0
	case http.StatusPartialContent:
		flags |= os.O_APPEND
	case http.StatusRequestedRangeNotSatisfiable:
		// the partial file already holds the whole artifact
		if offset > 0 {
			return offset, os.Rename(part, dest)
		}
		return 0, fmt.Errorf("registry http %d", resp.StatusCode)
	default:
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return 0, fmt.Errorf("registry http %d: %s", resp.StatusCode, strings.TrimSpace(string(b)))
	}

	f, err := os.OpenFile(part, flags, 0o644)
	if err != nil {
		return 0, err
	}
	n, copyErr := io.Copy(f, resp.Body)
	closeErr := f.Close()
	if copyErr != nil {
		return offset + n, fmt.Errorf("write %s: %w", part, copyErr)
	}
	if closeErr != nil {
		return offset + n, closeErr
	}
	if err := os.Rename(part, dest); err != nil {
		return offset + n, err
	}
	return offset + n, nil
}
