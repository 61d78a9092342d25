package server

import (
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"kakigoori/internal/images"
	"kakigoori/internal/models"
)

func (s *Server) handleUpload(c *gin.Context) {
	const op = "server.handleUpload"

	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, s.cfg.Server.MaxUploadBytes)

	data, header, err := readFormFile(c, "file")
	if err != nil {
		s.writeError(c, fmt.Errorf("%s: %w", op, err))
		return
	}

	img, created, err := s.svc.Registry.Intake(c.Request.Context(), data, header.Filename, header.Header.Get("Content-Type"))
	if errors.Is(err, models.ErrUnsupportedMediaType) {
		_, msg := statusFor(err)
		c.JSON(http.StatusUnsupportedMediaType, gin.H{"created": false, "error": msg})
		return
	}
	if err != nil {
		s.writeError(c, fmt.Errorf("%s: %w", op, err))
		return
	}

	c.JSON(http.StatusOK, gin.H{"created": created, "id": img.ID})
}

type taskView struct {
	ImageID    uuid.UUID       `json:"image_id"`
	TaskID     uuid.UUID       `json:"task_id"`
	Width      int             `json:"width"`
	Height     int             `json:"height"`
	FileType   models.Encoding `json:"file_type"`
	CreatedAt  time.Time       `json:"created_at"`
	AgeSeconds int64           `json:"age_seconds"`
}

func (s *Server) handleListTasks(c *gin.Context) {
	target := models.Encoding(c.Param("encoding"))

	views := []taskView{}
	// Unknown encodings have no tasks; answer with an empty list.
	if target.IsTarget() {
		pending, err := s.svc.Tasks.ListPending(c.Request.Context(), target)
		if err != nil {
			s.writeError(c, err)
			return
		}
		for _, p := range pending {
			views = append(views, taskView{
				ImageID:    p.ImageID,
				TaskID:     p.TaskID,
				Width:      p.Width,
				Height:     p.Height,
				FileType:   p.SourceEncoding,
				CreatedAt:  p.CreatedAt,
				AgeSeconds: int64(p.Age / time.Second),
			})
		}
	}

	c.JSON(http.StatusOK, gin.H{"variants": views})
}

func (s *Server) handleUploadVariant(c *gin.Context) {
	const op = "server.handleUploadVariant"

	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, s.cfg.Server.MaxUploadBytes)

	// Parse up front so an oversized body is reported as such rather than
	// as a missing field.
	if _, err := c.MultipartForm(); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			s.writeError(c, fmt.Errorf("%s: %w", op, err))
			return
		}
		s.writeError(c, fmt.Errorf("%s: multipart form: %v: %w", op, err, models.ErrBadRequest))
		return
	}

	raw := c.PostForm("task_id")
	if raw == "" {
		s.writeError(c, fmt.Errorf("%s: missing task_id: %w", op, models.ErrBadRequest))
		return
	}
	taskID, err := uuid.Parse(raw)
	if err != nil {
		s.writeError(c, fmt.Errorf("%s: task %q: %w", op, raw, models.ErrNotFound))
		return
	}

	data, _, err := readFormFile(c, "file")
	if err != nil {
		s.writeError(c, fmt.Errorf("%s: %w", op, err))
		return
	}

	if _, err := s.svc.Tasks.Fulfill(c.Request.Context(), taskID, data); err != nil {
		s.writeError(c, fmt.Errorf("%s: %w", op, err))
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// sizer picks the rendition size from the image and the request.
type sizer func(c *gin.Context, img *models.Image) (width, height int, err error)

func (s *Server) handleGetFull(c *gin.Context) {
	s.serveVariant(c, func(_ *gin.Context, img *models.Image) (int, int, error) {
		return img.Width, img.Height, nil
	})
}

func (s *Server) handleGetThumbnail(c *gin.Context) {
	s.serveVariant(c, func(_ *gin.Context, img *models.Image) (int, int, error) {
		w, h := images.ThumbnailBox(img)
		return w, h, nil
	})
}

func (s *Server) handleGetByHeight(c *gin.Context) {
	s.serveVariant(c, func(c *gin.Context, img *models.Image) (int, int, error) {
		height, err := sizeParam(c)
		if err != nil {
			return 0, 0, err
		}
		return images.ScaleToHeight(img, height)
	})
}

func (s *Server) handleGetByWidth(c *gin.Context) {
	s.serveVariant(c, func(c *gin.Context, img *models.Image) (int, int, error) {
		width, err := sizeParam(c)
		if err != nil {
			return 0, 0, err
		}
		return images.ScaleToWidth(img, width)
	})
}

// serveVariant redirects to the public URL of the negotiated variant.
func (s *Server) serveVariant(c *gin.Context, size sizer) {
	const op = "server.serveVariant"
	ctx := c.Request.Context()

	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		s.writeError(c, fmt.Errorf("%s: image id %q: %w", op, c.Param("id"), models.ErrNotFound))
		return
	}
	img, err := s.svc.Registry.Get(ctx, id)
	if err != nil {
		s.writeError(c, fmt.Errorf("%s: %w", op, err))
		return
	}

	width, height, err := size(c, img)
	if err != nil {
		s.writeError(c, fmt.Errorf("%s: %w", op, err))
		return
	}

	requested := c.Param("encoding")
	target, err := s.svc.Negotiator.Resolve(ctx, img, width, height, requested, images.ParseAccept(c.GetHeader("Accept")))
	if err != nil {
		s.writeError(c, fmt.Errorf("%s: %w", op, err))
		return
	}

	if requested == images.ModeAuto {
		c.Header("Vary", "Accept")
	}
	c.Redirect(http.StatusFound, s.publicURL(target.Key))
}

func (s *Server) publicURL(key string) string {
	return strings.TrimRight(s.cfg.Server.PublicBaseURL, "/") + "/" + key
}

func sizeParam(c *gin.Context) (int, error) {
	n, err := strconv.Atoi(c.Param("size"))
	if err != nil {
		return 0, fmt.Errorf("size %q: %w", c.Param("size"), models.ErrBadRequest)
	}
	return n, nil
}

func readFormFile(c *gin.Context, field string) ([]byte, *multipart.FileHeader, error) {
	header, err := c.FormFile(field)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return nil, nil, err
		}
		return nil, nil, fmt.Errorf("form file %q: %v: %w", field, err, models.ErrBadRequest)
	}

	f, err := header.Open()
	if err != nil {
		return nil, nil, err
	}
	defer f.Close()

	data, err := io.ReadAll(f)
	if err != nil {
		return nil, nil, err
	}
	return data, header, nil
}
