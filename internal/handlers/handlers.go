package handlers

import (
	"errors"
	"io"
	"mime/multipart"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/Brownie44l1/image-moderation/internal/middleware"
	"github.com/Brownie44l1/image-moderation/internal/moderation"
)

const (
	imagesField = "images"
	imageField  = "image"
)

// ModelInfo is reported by the health endpoint.
type ModelInfo struct {
	Classes    []string `json:"classes"`
	InputShape []int64  `json:"input_shape"`
}

type Options struct {
	Model          ModelInfo
	MaxUploadBytes int64
	Logger         logrus.FieldLogger
	// Now defaults to time.Now.
	Now func() time.Time
}

type Handler struct {
	service        *moderation.Service
	model          ModelInfo
	maxUploadBytes int64
	startedAt      time.Time
	now            func() time.Time
	log            logrus.FieldLogger
}

func NewHandler(service *moderation.Service, opts Options) *Handler {
	if opts.Logger == nil {
		opts.Logger = logrus.StandardLogger()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Handler{
		service:        service,
		model:          opts.Model,
		maxUploadBytes: opts.MaxUploadBytes,
		startedAt:      opts.Now(),
		now:            opts.Now,
		log:            opts.Logger,
	}
}

func (h *Handler) Ping(c *gin.Context) {
	h.respond(c, http.StatusOK, success(msgServerRunning, nil))
}

type healthStatus struct {
	Status     string    `json:"status"`
	Classes    []string  `json:"classes"`
	InputShape []int64   `json:"input_shape"`
	StartedAt  time.Time `json:"started_at"`
	CheckedAt  time.Time `json:"checked_at"`
}

func (h *Handler) Health(c *gin.Context) {
	h.respond(c, http.StatusOK, success("healthy", healthStatus{
		Status:     "healthy",
		Classes:    h.model.Classes,
		InputShape: h.model.InputShape,
		StartedAt:  h.startedAt,
		CheckedAt:  h.now(),
	}))
}

// Moderate classifies every file of the "images" field and answers with the
// batch verdict.
func (h *Handler) Moderate(c *gin.Context) {
	form, ok := h.parseForm(c)
	if !ok {
		return
	}
	defer form.RemoveAll()

	files, found := form.File[imagesField]
	if !found {
		// A file input left empty arrives as a plain value.
		if _, empty := form.Value[imagesField]; empty {
			h.fail(c, moderation.ErrNoFiles)
			return
		}
		h.fail(c, moderation.ErrNoImages)
		return
	}

	images := make([]moderation.Image, 0, len(files))
	for _, fh := range files {
		images = append(images, uploadedImage(fh))
	}

	verdict, err := h.service.ModerateBatch(c.Request.Context(), images)
	if err != nil {
		h.fail(c, err)
		return
	}

	h.log.WithFields(logrus.Fields{
		"request_id":   middleware.GetRequestID(c),
		"images":       len(images),
		"result":       verdict.Result,
		"safe_count":   verdict.SafeCount,
		"unsafe_count": verdict.UnsafeCount,
	}).Info("[Moderation] Prediction successful")

	h.respond(c, http.StatusOK, success(msgPredicted, verdict))
}

type classifyResult struct {
	Label       string             `json:"label"`
	Confidence  float32            `json:"confidence"`
	Predictions map[string]float32 `json:"predictions"`
}

// Classify labels the single file of the "image" field.
func (h *Handler) Classify(c *gin.Context) {
	form, ok := h.parseForm(c)
	if !ok {
		return
	}
	defer form.RemoveAll()

	files := form.File[imageField]
	if len(files) == 0 {
		h.fail(c, &moderation.InputError{Message: msgNoImage})
		return
	}

	result, err := h.service.ClassifyImage(c.Request.Context(), uploadedImage(files[0]))
	if err != nil {
		h.fail(c, err)
		return
	}

	predictions := make(map[string]float32, len(result.Scores))
	for i, score := range result.Scores {
		if i < len(moderation.ClassNames) {
			predictions[moderation.ClassNames[i]] = score
		}
	}

	h.respond(c, http.StatusOK, success(msgPredicted, classifyResult{
		Label:       result.Label.String(),
		Confidence:  result.Confidence,
		Predictions: predictions,
	}))
}

func (h *Handler) NotFound(c *gin.Context) {
	h.respond(c, http.StatusNotFound, failure(http.StatusNotFound, msgNotFound))
}

// Recovered answers a request whose handler panicked.
func (h *Handler) Recovered(c *gin.Context, recovered any) {
	h.log.WithFields(logrus.Fields{
		"request_id": middleware.GetRequestID(c),
		"panic":      recovered,
	}).Error("[Handler] Panic recovered")
	h.respond(c, http.StatusInternalServerError, failure(http.StatusInternalServerError, msgInternal))
	c.Abort()
}

// parseForm reads the multipart body within the upload limit. Requests that are
// not multipart have no images and are answered like a missing field.
func (h *Handler) parseForm(c *gin.Context) (*multipart.Form, bool) {
	if h.maxUploadBytes > 0 {
		if c.Request.ContentLength > h.maxUploadBytes {
			h.respond(c, http.StatusRequestEntityTooLarge, failure(http.StatusRequestEntityTooLarge, msgTooLarge))
			return nil, false
		}
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, h.maxUploadBytes)
	}

	form, err := c.MultipartForm()
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			h.respond(c, http.StatusRequestEntityTooLarge, failure(http.StatusRequestEntityTooLarge, msgTooLarge))
			return nil, false
		}
		h.log.WithField("request_id", middleware.GetRequestID(c)).
			Debug("[Handler] Couldn't parse multipart form: ", err.Error())
		h.fail(c, moderation.ErrNoImages)
		return nil, false
	}
	return form, true
}

// fail maps input errors to 400 and everything else to 500.
func (h *Handler) fail(c *gin.Context, err error) {
	_ = c.Error(err)
	entry := h.log.WithField("request_id", middleware.GetRequestID(c))

	if moderation.IsInputError(err) {
		entry.Debug("[Handler] Rejected request: ", err.Error())
		h.respond(c, http.StatusBadRequest, failure(http.StatusBadRequest, err.Error()))
		return
	}

	entry.Error("[Handler] Error occurred: ", err.Error())
	h.respond(c, http.StatusInternalServerError, failure(http.StatusInternalServerError, msgInternal))
}

func uploadedImage(fh *multipart.FileHeader) moderation.Image {
	return moderation.Image{
		Name: fh.Filename,
		Open: func() (io.ReadCloser, error) { return fh.Open() },
	}
}
