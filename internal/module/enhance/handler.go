package enhance

import (
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/homeglow/server/internal/module/credits"
	apperrors "github.com/homeglow/server/internal/shared/errors"
	"github.com/homeglow/server/internal/shared/middleware"
	"github.com/homeglow/server/internal/shared/response"
)

// Handler handles HTTP requests for enhancement.
type Handler struct {
	service        *Service
	maxUploadBytes int64
}

// NewHandler creates a new enhance handler. maxUploadBytes bounds each image.
func NewHandler(service *Service, maxUploadBytes int64) *Handler {
	if maxUploadBytes <= 0 {
		maxUploadBytes = 25 << 20
	}
	return &Handler{service: service, maxUploadBytes: maxUploadBytes}
}

// RegisterRoutes registers the enhance routes. r must resolve optional auth.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.POST("/enhance", h.Enhance)
	r.POST("/enhance/batch", h.EnhanceBatch)
}

// Enhance enhances one uploaded image.
// POST /enhance (multipart: image, mode, prompt)
func (h *Handler) Enhance(c *gin.Context) {
	var form EnhanceForm
	if err := c.ShouldBind(&form); err != nil {
		response.Error(c, apperrors.BadRequest(err.Error()))
		return
	}

	header, err := c.FormFile("image")
	if err != nil {
		response.Error(c, apperrors.BadRequest("No image provided"))
		return
	}
	img, err := h.readImage(header)
	if err != nil {
		response.Error(c, apperrors.BadRequest(err.Error()))
		return
	}

	resp, err := h.service.Enhance(c.Request.Context(), principalFrom(c), &Request{
		Image:  img,
		Mode:   form.ModeOrDefault(),
		Prompt: form.Prompt,
	})
	if err != nil {
		h.handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

// EnhanceBatch enhances every uploaded image independently.
// POST /enhance/batch (multipart: images[], mode, prompt)
func (h *Handler) EnhanceBatch(c *gin.Context) {
	var form EnhanceForm
	if err := c.ShouldBind(&form); err != nil {
		response.Error(c, apperrors.BadRequest(err.Error()))
		return
	}

	mf, err := c.MultipartForm()
	if err != nil {
		response.Error(c, apperrors.BadRequest("multipart form required"))
		return
	}
	headers := mf.File["images"]
	if len(headers) == 0 {
		headers = mf.File["images[]"]
	}

	images := make([]Image, 0, len(headers))
	for _, header := range headers {
		img, err := h.readImage(header)
		if err != nil {
			response.Error(c, apperrors.BadRequest(err.Error()))
			return
		}
		images = append(images, img)
	}

	resp, err := h.service.EnhanceBatch(c.Request.Context(), principalFrom(c), &BatchRequest{
		Images: images,
		Mode:   form.ModeOrDefault(),
		Prompt: form.Prompt,
	})
	if err != nil {
		h.handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

func (h *Handler) readImage(header *multipart.FileHeader) (Image, error) {
	if header.Size > h.maxUploadBytes {
		return Image{}, fmt.Errorf("%s exceeds the %d MB upload limit", header.Filename, h.maxUploadBytes>>20)
	}
	f, err := header.Open()
	if err != nil {
		return Image{}, fmt.Errorf("could not read %s", header.Filename)
	}
	defer f.Close()

	data, err := io.ReadAll(io.LimitReader(f, h.maxUploadBytes+1))
	if err != nil {
		return Image{}, fmt.Errorf("could not read %s", header.Filename)
	}
	if int64(len(data)) > h.maxUploadBytes {
		return Image{}, fmt.Errorf("%s exceeds the %d MB upload limit", header.Filename, h.maxUploadBytes>>20)
	}

	contentType := header.Header.Get("Content-Type")
	if contentType == "" || contentType == "application/octet-stream" {
		contentType = http.DetectContentType(data)
	}
	return Image{Data: data, ContentType: contentType, Filename: header.Filename}, nil
}

func (h *Handler) handleError(c *gin.Context, err error) {
	msg := UserMessage(err)
	switch {
	case errors.Is(err, ErrInvalidRequest), errors.Is(err, ErrBatchTooLarge), errors.Is(err, ErrEmptyBatch):
		response.Error(c, apperrors.BadRequest(msg))
	case errors.Is(err, ErrAuthenticationRequired):
		response.Error(c, apperrors.Unauthorized(msg))
	case errors.Is(err, credits.ErrInsufficientCredits):
		response.Error(c, apperrors.InsufficientCredits(msg))
	case errors.Is(err, ErrEnhancementFailed):
		response.Error(c, apperrors.BadGateway(msg, err))
	default:
		response.Error(c, apperrors.Internal(msg, err))
	}
}

func principalFrom(c *gin.Context) Principal {
	return Principal{
		UserID: middleware.GetUserID(c),
		Email:  middleware.GetEmail(c),
	}
}
