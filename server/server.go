// Package server exposes a quantized model over HTTP.
package server

import "bytes"
import "image"
import "io"
import "net/http"
import "sync"
import "time"

import "github.com/gin-contrib/cors"
import "github.com/gin-contrib/gzip"
import "github.com/gin-gonic/gin"
import "github.com/google/uuid"
import "github.com/pkg/errors"
import log "github.com/sirupsen/logrus"

import "github.com/edgeml/personcar/imageio"
import "github.com/edgeml/personcar/inference"

// MaxImageBytes bounds the accepted upload size.
const MaxImageBytes = 32 << 20

// Server answers inference requests with a pool of interpreters sharing
// one model.
type Server struct {
	Version string

	model *inference.Model
	pool  sync.Pool
}

// New checks that m can be interpreted and prepares the pool.
func New(m *inference.Model, version string) (*Server, error) {
	it, err := inference.NewInterpreter(m)
	if err != nil {
		return nil, err
	}
	if len(m.Outputs) < 2 {
		return nil, errors.New("model needs a person and a car output")
	}
	s := &Server{Version: version, model: m}
	s.pool.New = func() interface{} {
		it, _ := inference.NewInterpreter(m)
		// requests already run concurrently
		it.Workers = 1
		return it
	}
	it.Workers = 1
	s.pool.Put(it)
	return s, nil
}

func corsMiddleware() gin.HandlerFunc {
	return cors.New(cors.Config{
		AllowOrigins:  []string{"*"},
		AllowMethods:  []string{"GET", "POST"},
		AllowHeaders:  []string{"Origin", "Content-Type"},
		ExposeHeaders: []string{"X-Request-Id"},
		MaxAge:        12 * time.Hour,
	})
}

// requestIDMiddleware attaches a fresh UUID to every request.
func requestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := uuid.New().String()
		c.Set("request_id", id)
		c.Writer.Header().Set("X-Request-Id", id)
		c.Next()
	}
}

// Router builds the gin engine serving s.
func (s *Server) Router() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(corsMiddleware())
	r.Use(requestIDMiddleware())
	r.Use(gzip.Gzip(gzip.DefaultCompression))

	r.GET("/version", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"message": s.Version,
		})
	})

	v1 := r.Group("/api/v1")
	{
		v1.GET("/model", s.describe)
		v1.POST("/infer", s.infer)
	}
	return r
}

func (s *Server) describe(c *gin.Context) {
	outputs := make([]string, len(s.model.Outputs))
	for i := range outputs {
		outputs[i] = s.model.OutputTensor(i).Name
	}
	c.JSON(http.StatusOK, gin.H{
		"name":     s.model.Name,
		"input":    s.model.InputTensor().Shape,
		"outputs":  outputs,
		"tensors":  len(s.model.Tensors),
		"ops":      len(s.model.Ops),
		"metadata": s.model.Metadata,
	})
}

func (s *Server) infer(c *gin.Context) {
	img, err := readImage(c)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	p, err := s.Predict(img)
	if err != nil {
		log.WithError(err).WithField("request_id", c.GetString("request_id")).Error("inference failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	log.WithFields(log.Fields{
		"request_id": c.GetString("request_id"),
		"person":     p.Person.Score,
		"car":        p.Car.Score,
	}).Debug("inference")
	c.JSON(http.StatusOK, p)
}

// Predict classifies img with a pooled interpreter.
func (s *Server) Predict(img image.Image) (inference.Prediction, error) {
	it := s.pool.Get().(*inference.Interpreter)
	defer s.pool.Put(it)
	return it.Classify(img)
}

// readImage takes the multipart field "image" or, for any other content
// type, the request body.
func readImage(c *gin.Context) (image.Image, error) {
	var r io.Reader
	if c.ContentType() == "multipart/form-data" {
		fh, err := c.FormFile("image")
		if err != nil {
			return nil, errors.Wrap(err, "multipart field image")
		}
		f, err := fh.Open()
		if err != nil {
			return nil, err
		}
		defer f.Close()
		r = f
	} else {
		r = c.Request.Body
	}
	body, err := io.ReadAll(io.LimitReader(r, MaxImageBytes+1))
	if err != nil {
		return nil, errors.Wrap(err, "read image")
	}
	if len(body) == 0 {
		return nil, errors.New("empty image")
	}
	if len(body) > MaxImageBytes {
		return nil, errors.Errorf("image larger than %d bytes", MaxImageBytes)
	}
	img, err := imageio.Decode(bytes.NewReader(body))
	if err != nil {
		return nil, errors.Wrap(err, "decode image")
	}
	return img, nil
}
