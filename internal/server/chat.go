package server

import (
	"context"
	"encoding/base64"
	"fmt"
	"net/http"
	"path"
	"strings"

	"github.com/gabriel-vasile/mimetype"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/local/smartgarden/internal/imagecodec"
	"github.com/local/smartgarden/internal/responder"
	"github.com/local/smartgarden/internal/storage"
)

type chatRequest struct {
	Text        string `json:"text"`
	ImageURI    string `json:"imageUri,omitempty"`
	ImageBase64 string `json:"imageBase64,omitempty"`
	ImageName   string `json:"imageName,omitempty"`
}

type chatResponse struct {
	Reply  string           `json:"reply"`
	Source responder.Source `json:"source"`
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	var in chatRequest
	if err := decodeJSON(w, r, s.deps.MaxBodyBytes, &in); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if strings.TrimSpace(in.Text) == "" && in.ImageURI == "" && in.ImageBase64 == "" {
		writeError(w, http.StatusBadRequest, "text or image is required")
		return
	}

	ref := in.ImageURI
	if ref != "" {
		bucket, key, err := storage.ParseRef(ref)
		if err != nil {
			writeError(w, http.StatusBadRequest, "imageUri must be an s3:// reference")
			return
		}
		if !s.ownsPhoto(r.Context(), bucket, key) {
			log.Warn().Str("user", userFrom(r.Context())).Str("image", ref).Msg("chat image outside the user's folder")
			writeError(w, http.StatusForbidden, "image does not belong to you")
			return
		}
	}
	if in.ImageBase64 != "" {
		var code int
		var err error
		ref, code, err = s.uploadInline(r, in)
		if err != nil {
			writeError(w, code, err.Error())
			return
		}
	}

	reply := s.deps.Responder.Respond(r.Context(), responder.Query{Text: in.Text, ImageRef: ref})
	writeJSON(w, http.StatusOK, chatResponse{Reply: reply.Text, Source: reply.Source})
}

// ownsPhoto reports whether key lies in the caller's upload folder, the only
// place uploadInline writes to.
func (s *Server) ownsPhoto(ctx context.Context, bucket, key string) bool {
	if s.deps.PhotoBucket != "" && bucket != s.deps.PhotoBucket {
		return false
	}
	if path.Clean(key) != key {
		return false
	}
	return strings.HasPrefix(key, path.Join(s.deps.UploadPrefix, userFrom(ctx))+"/")
}

// uploadInline stores a base64 photo and returns its ref. The object key keeps
// an image extension so the MIME type survives the round trip.
func (s *Server) uploadInline(r *http.Request, in chatRequest) (string, int, error) {
	if s.deps.Uploader == nil {
		return "", http.StatusServiceUnavailable, fmt.Errorf("photo uploads are not configured")
	}
	data, err := decodeInlineImage(in.ImageBase64)
	if err != nil {
		return "", http.StatusBadRequest, err
	}
	ext := imageExtension(in.ImageName, data)
	key := path.Join(s.deps.UploadPrefix, userFrom(r.Context()), uuid.NewString()+ext)
	ref, err := s.deps.Uploader.Upload(r.Context(), key, data, imagecodec.MIMETypeFromPath(key))
	if err != nil {
		log.Error().Err(err).Str("key", key).Msg("chat photo upload failed")
		return "", http.StatusBadGateway, fmt.Errorf("photo upload failed")
	}
	return ref, http.StatusOK, nil
}

// decodeInlineImage accepts raw base64 or a data: URL.
func decodeInlineImage(s string) ([]byte, error) {
	if strings.HasPrefix(s, "data:") {
		_, payload, ok := strings.Cut(s, ",")
		if !ok {
			return nil, fmt.Errorf("malformed data url")
		}
		s = payload
	}
	data, err := base64.StdEncoding.DecodeString(strings.TrimSpace(s))
	if err != nil {
		return nil, fmt.Errorf("imageBase64 is not valid base64")
	}
	if len(data) == 0 {
		return nil, fmt.Errorf("imageBase64 is empty")
	}
	return data, nil
}

// imageExtension prefers a known image extension from the client's file name
// and falls back to sniffing. Anything else is stored as .jpg.
func imageExtension(name string, data []byte) string {
	if ext := strings.ToLower(path.Ext(name)); imagecodec.IsImageExtension(ext) {
		return ext
	}
	if ext := mimetype.Detect(data).Extension(); imagecodec.IsImageExtension(ext) {
		return ext
	}
	return ".jpg"
}
