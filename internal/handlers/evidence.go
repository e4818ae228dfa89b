package handlers

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"io"
	"mime"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/example/kyc-liveness/internal/imageprocessor"
)

type requestError struct {
	status  int
	message string
}

func (e *requestError) Error() string { return e.message }

func tooLarge() error {
	return &requestError{status: http.StatusRequestEntityTooLarge, message: "upload exceeds the size limit"}
}

func unsupported(msg string) error {
	return &requestError{status: http.StatusUnsupportedMediaType, message: msg}
}

func badRequest(msg string) error {
	return &requestError{status: http.StatusBadRequest, message: msg}
}

var allowedImageTypes = map[string]bool{
	"image/jpeg": true,
	"image/png":  true,
}

// readEvidence accepts either a JSON body {"image": "<data URI>"} or a
// multipart form with a "video" or "image" file.
func readEvidence(c *gin.Context, maxUpload int64) (imageprocessor.Evidence, error) {
	// Base64 inflates JSON bodies by a third.
	bodyLimit := maxUpload + maxUpload/3 + 64<<10
	if c.Request.ContentLength > bodyLimit {
		return imageprocessor.Evidence{}, tooLarge()
	}
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, bodyLimit)

	mediaType, _, err := mime.ParseMediaType(c.GetHeader("Content-Type"))
	if err != nil {
		return imageprocessor.Evidence{}, unsupported("missing or invalid content type")
	}

	var ev imageprocessor.Evidence
	switch mediaType {
	case "application/json":
		ev, err = readImageJSON(c)
	case "multipart/form-data":
		ev, err = readMultipart(c, maxUpload)
	default:
		return imageprocessor.Evidence{}, unsupported("content type must be JSON or multipart")
	}
	if err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			return imageprocessor.Evidence{}, tooLarge()
		}
		return imageprocessor.Evidence{}, err
	}
	if int64(len(ev.Data)) > maxUpload {
		return imageprocessor.Evidence{}, tooLarge()
	}
	return ev, nil
}

func readImageJSON(c *gin.Context) (imageprocessor.Evidence, error) {
	var body struct {
		Image string `json:"image"`
	}
	if err := json.NewDecoder(c.Request.Body).Decode(&body); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			return imageprocessor.Evidence{}, err
		}
		return imageprocessor.Evidence{}, badRequest("invalid request body")
	}
	if body.Image == "" {
		return imageprocessor.Evidence{}, badRequest("image is required")
	}

	declared, data, err := decodeDataURI(body.Image)
	if err != nil {
		return imageprocessor.Evidence{}, badRequest(err.Error())
	}
	sniffed := sniff(data)
	if !allowedImageTypes[sniffed] {
		return imageprocessor.Evidence{}, unsupported("image must be JPEG or PNG")
	}
	if declared != "" && declared != sniffed {
		return imageprocessor.Evidence{}, unsupported("image content does not match its declared type")
	}
	return imageprocessor.Evidence{Kind: imageprocessor.KindImage, MIMEType: sniffed, Data: data}, nil
}

func decodeDataURI(uri string) (string, []byte, error) {
	rest, ok := strings.CutPrefix(uri, "data:")
	if !ok {
		// Bare base64 is accepted for older clients.
		data, err := base64.StdEncoding.DecodeString(uri)
		if err != nil {
			return "", nil, errors.New("image must be a base64 data URI")
		}
		return "", data, nil
	}
	meta, payload, ok := strings.Cut(rest, ",")
	if !ok || !strings.HasSuffix(meta, ";base64") {
		return "", nil, errors.New("image must be a base64 data URI")
	}
	data, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return "", nil, errors.New("image data is not valid base64")
	}
	return strings.TrimSuffix(meta, ";base64"), data, nil
}

func readMultipart(c *gin.Context, maxUpload int64) (imageprocessor.Evidence, error) {
	kind := imageprocessor.KindVideo
	file, err := c.FormFile("video")
	if err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			return imageprocessor.Evidence{}, err
		}
		kind = imageprocessor.KindImage
		file, err = c.FormFile("image")
	}
	if err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			return imageprocessor.Evidence{}, err
		}
		return imageprocessor.Evidence{}, badRequest("a video or image file is required")
	}
	if file.Size > maxUpload {
		return imageprocessor.Evidence{}, tooLarge()
	}

	src, err := file.Open()
	if err != nil {
		return imageprocessor.Evidence{}, badRequest("unable to open upload")
	}
	defer src.Close()

	data, err := io.ReadAll(src)
	if err != nil {
		return imageprocessor.Evidence{}, err
	}

	declared, _, _ := mime.ParseMediaType(file.Header.Get("Content-Type"))
	sniffed := sniff(data)
	if kind == imageprocessor.KindImage {
		if !allowedImageTypes[sniffed] {
			return imageprocessor.Evidence{}, unsupported("image must be JPEG or PNG")
		}
		return imageprocessor.Evidence{Kind: kind, MIMEType: sniffed, Data: data}, nil
	}

	if !strings.HasPrefix(declared, "video/") {
		return imageprocessor.Evidence{}, unsupported("video must have a video/* content type")
	}
	if strings.HasPrefix(sniffed, "text/") {
		return imageprocessor.Evidence{}, unsupported("video content is not a media stream")
	}
	return imageprocessor.Evidence{Kind: kind, MIMEType: declared, Data: data}, nil
}

func sniff(data []byte) string {
	mediaType, _, _ := mime.ParseMediaType(http.DetectContentType(data))
	return mediaType
}
