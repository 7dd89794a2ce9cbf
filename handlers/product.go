package handlers

import (
	"context"
	"errors"
	"mime/multipart"
	"net/http"
	"strconv"
	"strings"
	"time"

	"catalog-svc/circuitbreaker"
	"catalog-svc/imagestore"
	"catalog-svc/kafka"
	"catalog-svc/middleware"
	"catalog-svc/models"
	"catalog-svc/repository"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

const (
	msgFetchFailed   = "Failed to fetch products"
	msgAdded         = "Product added successfully"
	msgAddFailed     = "Failed to add product"
	msgUpdated       = "Product updated successfully"
	msgUpdateFailed  = "Failed to update product"
	msgDeleted       = "Product deleted successfully"
	msgDeleteFailed  = "Failed to delete product"
	msgNotFound      = "Product not found"
	msgInvalidID     = "Invalid product ID"
	msgInvalidData   = "Invalid product data"
	msgImageRequired = "Image file is required"
)

type ProductStore interface {
	ListProducts(ctx context.Context) ([]models.Product, error)
	CreateProduct(ctx context.Context, p models.NewProduct) (models.Product, error)
	UpdateProduct(ctx context.Context, u models.ProductUpdate) (models.Product, string, error)
	DeleteProduct(ctx context.Context, id int64) (string, error)
}

type ImageStore interface {
	SaveUpload(fh *multipart.FileHeader) (string, error)
	Remove(relativePath string) imagestore.RemoveOutcome
}

type ProductCache interface {
	GetProducts(ctx context.Context) ([]models.ProductResponse, bool, error)
	Generation(ctx context.Context) (int64, error)
	SetProducts(ctx context.Context, gen int64, products []models.ProductResponse) error
	Invalidate(ctx context.Context) error
}

type EventPublisher interface {
	Publish(ctx context.Context, event kafka.ProductEvent) error
}

type ProductHandler struct {
	store          ProductStore
	images         ImageStore
	cache          ProductCache
	events         EventPublisher
	logger         *zap.Logger
	circuitBreaker *circuitbreaker.CircuitBreaker
}

type Option func(*ProductHandler)

// WithCache serves the product list from cache and invalidates it on writes.
func WithCache(cache ProductCache) Option {
	return func(h *ProductHandler) { h.cache = cache }
}

func WithEvents(events EventPublisher) Option {
	return func(h *ProductHandler) { h.events = events }
}

func NewProductHandler(store ProductStore, images ImageStore, logger *zap.Logger, opts ...Option) *ProductHandler {
	h := &ProductHandler{
		store:  store,
		images: images,
		events: kafka.NoopPublisher{},
		logger: logger,
		circuitBreaker: circuitbreaker.NewCircuitBreaker(5, 30*time.Second,
			circuitbreaker.IgnoreErrors(repository.ErrProductNotFound)),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Register mounts the product routes on rg.
func (h *ProductHandler) Register(rg *gin.RouterGroup) {
	rg.GET("/getAllProduct", h.GetAllProducts)
	rg.POST("/add", h.AddProduct)
	rg.POST("/update/:id", h.UpdateProduct)
	rg.POST("/delete/", h.DeleteProduct)
	rg.POST("/delete/:id", h.DeleteProduct)
}

func (h *ProductHandler) GetAllProducts(c *gin.Context) {
	ctx, span := otel.Tracer("catalog-service").Start(c.Request.Context(), "GetAllProducts")
	defer span.End()

	var (
		gen      int64
		cacheGen bool
	)
	if h.cache != nil {
		cached, ok, err := h.cache.GetProducts(ctx)
		if err != nil {
			h.logger.Warn("Failed to read product cache",
				zap.String("trace_id", middleware.GetTraceID(ctx)), zap.Error(err))
		}
		span.SetAttributes(attribute.Bool("cache.hit", ok))
		if ok {
			c.JSON(http.StatusOK, cached)
			return
		}
		// The generation must be read before the store so a write that
		// commits during the query keeps this list out of the cache.
		gen, err = h.cache.Generation(ctx)
		cacheGen = err == nil
	}

	var products []models.Product
	err := h.circuitBreaker.Execute(ctx, func() error {
		var err error
		products, err = h.store.ListProducts(ctx)
		return err
	})
	if err != nil {
		h.internalError(ctx, c, span, msgFetchFailed, err)
		return
	}

	resp := make([]models.ProductResponse, len(products))
	for i, p := range products {
		resp[i] = models.NewProductResponse(p)
	}

	if cacheGen {
		if err := h.cache.SetProducts(ctx, gen, resp); err != nil {
			h.logger.Warn("Failed to write product cache",
				zap.String("trace_id", middleware.GetTraceID(ctx)), zap.Error(err))
		}
	}

	span.SetAttributes(attribute.Int("products.count", len(resp)))
	c.JSON(http.StatusOK, resp)
}

func (h *ProductHandler) AddProduct(c *gin.Context) {
	// A client disconnect must not stop the write halfway between disk and store.
	ctx, span := otel.Tracer("catalog-service").Start(context.WithoutCancel(c.Request.Context()), "AddProduct")
	defer span.End()

	form, ok := bindProductForm(c)
	if !ok {
		return
	}
	price, err := form.ParsePrice()
	if err != nil {
		c.JSON(http.StatusBadRequest, models.MessageResponse{Message: msgInvalidData})
		return
	}

	file, err := c.FormFile("image")
	if err != nil {
		c.JSON(http.StatusBadRequest, models.MessageResponse{Message: msgImageRequired})
		return
	}

	imagePath, err := h.images.SaveUpload(file)
	if err != nil {
		h.internalError(ctx, c, span, msgAddFailed, err)
		return
	}
	middleware.RecordImageStored()

	var product models.Product
	err = h.circuitBreaker.Execute(ctx, func() error {
		var err error
		product, err = h.store.CreateProduct(ctx, models.NewProduct{
			Name:      form.Name,
			Price:     price,
			ImagePath: imagePath,
		})
		return err
	})
	if err != nil {
		h.discardImage(imagePath, "rollback")
		h.internalError(ctx, c, span, msgAddFailed, err)
		return
	}

	span.SetAttributes(attribute.Int64("product.id", product.ID))
	h.logger.Info("Product created",
		zap.String("trace_id", middleware.GetTraceID(ctx)),
		zap.Int64("product_id", product.ID),
		zap.String("image_path", product.ImagePath),
	)
	h.afterMutation(ctx, kafka.EventProductCreated, product)

	c.JSON(http.StatusOK, models.MutationResponse{
		Message: msgAdded,
		Product: models.NewProductResponse(product),
	})
}

func (h *ProductHandler) UpdateProduct(c *gin.Context) {
	ctx, span := otel.Tracer("catalog-service").Start(context.WithoutCancel(c.Request.Context()), "UpdateProduct")
	defer span.End()

	id, ok := parseID(c)
	if !ok {
		c.JSON(http.StatusBadRequest, models.MessageResponse{Message: msgInvalidID})
		return
	}
	span.SetAttributes(attribute.Int64("product.id", id))

	form, ok := bindProductForm(c)
	if !ok {
		return
	}
	price, err := form.ParsePrice()
	if err != nil {
		c.JSON(http.StatusBadRequest, models.MessageResponse{Message: msgInvalidData})
		return
	}

	// The image is optional on update.
	var newImage string
	file, err := c.FormFile("image")
	switch {
	case err == nil:
		newImage, err = h.images.SaveUpload(file)
		if err != nil {
			h.internalError(ctx, c, span, msgUpdateFailed, err)
			return
		}
		middleware.RecordImageStored()
	case errors.Is(err, http.ErrMissingFile), errors.Is(err, http.ErrNotMultipart):
	default:
		c.JSON(http.StatusBadRequest, models.MessageResponse{Message: msgInvalidData})
		return
	}

	var (
		product  models.Product
		oldImage string
	)
	err = h.circuitBreaker.Execute(ctx, func() error {
		var err error
		product, oldImage, err = h.store.UpdateProduct(ctx, models.ProductUpdate{
			ID:        id,
			Name:      form.Name,
			Price:     price,
			ImagePath: newImage,
		})
		return err
	})
	if err != nil {
		if newImage != "" {
			h.discardImage(newImage, "rollback")
		}
		if errors.Is(err, repository.ErrProductNotFound) {
			c.JSON(http.StatusNotFound, models.MessageResponse{Message: msgNotFound})
			return
		}
		h.internalError(ctx, c, span, msgUpdateFailed, err)
		return
	}

	if newImage != "" && oldImage != newImage {
		h.discardImage(oldImage, "replaced")
	}

	h.logger.Info("Product updated",
		zap.String("trace_id", middleware.GetTraceID(ctx)),
		zap.Int64("product_id", id),
		zap.Bool("image_replaced", newImage != ""),
	)
	h.afterMutation(ctx, kafka.EventProductUpdated, product)

	c.JSON(http.StatusOK, models.MutationResponse{
		Message: msgUpdated,
		Product: models.NewProductResponse(product),
	})
}

func (h *ProductHandler) DeleteProduct(c *gin.Context) {
	ctx, span := otel.Tracer("catalog-service").Start(context.WithoutCancel(c.Request.Context()), "DeleteProduct")
	defer span.End()

	id, ok := parseID(c)
	if !ok {
		c.JSON(http.StatusBadRequest, models.MessageResponse{Message: msgInvalidID})
		return
	}
	span.SetAttributes(attribute.Int64("product.id", id))

	var imagePath string
	err := h.circuitBreaker.Execute(ctx, func() error {
		var err error
		imagePath, err = h.store.DeleteProduct(ctx, id)
		return err
	})
	if err != nil {
		if errors.Is(err, repository.ErrProductNotFound) {
			c.JSON(http.StatusNotFound, models.MessageResponse{Message: msgNotFound})
			return
		}
		h.internalError(ctx, c, span, msgDeleteFailed, err)
		return
	}

	h.discardImage(imagePath, "deleted")

	h.logger.Info("Product deleted",
		zap.String("trace_id", middleware.GetTraceID(ctx)),
		zap.Int64("product_id", id),
	)
	h.afterMutation(ctx, kafka.EventProductDeleted, models.Product{ID: id, ImagePath: imagePath})

	c.JSON(http.StatusOK, models.MessageResponse{Message: msgDeleted})
}

func bindProductForm(c *gin.Context) (models.ProductForm, bool) {
	var form models.ProductForm
	if err := c.ShouldBind(&form); err != nil {
		c.JSON(http.StatusBadRequest, models.MessageResponse{Message: msgInvalidData})
		return form, false
	}
	form.Name = strings.TrimSpace(form.Name)
	if form.Name == "" {
		c.JSON(http.StatusBadRequest, models.MessageResponse{Message: msgInvalidData})
		return form, false
	}
	return form, true
}

// parseID accepts ids that fit the SERIAL (int4) products.id column.
func parseID(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 32)
	if err != nil || id <= 0 {
		return 0, false
	}
	return id, true
}

// discardImage removes an image that is no longer referenced. The outcome is
// only counted; it never changes the response.
func (h *ProductHandler) discardImage(imagePath, reason string) {
	outcome := h.images.Remove(imagePath)
	middleware.RecordImageCleanup(reason, outcome.String())
}

func (h *ProductHandler) afterMutation(ctx context.Context, eventType string, p models.Product) {
	traceID := middleware.GetTraceID(ctx)

	if h.cache != nil {
		if err := h.cache.Invalidate(ctx); err != nil {
			h.logger.Warn("Failed to invalidate product cache", zap.String("trace_id", traceID), zap.Error(err))
		}
	}

	if err := h.events.Publish(ctx, kafka.NewProductEvent(eventType, p)); err != nil {
		h.logger.Warn("Failed to publish product event",
			zap.String("trace_id", traceID),
			zap.String("event_type", eventType),
			zap.Error(err),
		)
	}
}

func (h *ProductHandler) internalError(ctx context.Context, c *gin.Context, span trace.Span, message string, err error) {
	span.RecordError(err)
	fields := []zap.Field{zap.String("trace_id", middleware.GetTraceID(ctx)), zap.Error(err)}
	if errors.Is(err, circuitbreaker.ErrCircuitOpen) {
		fields = append(fields, zap.String("circuit.state", "open"))
	}
	h.logger.Error(message, fields...)
	c.JSON(http.StatusInternalServerError, models.MessageResponse{Message: message})
}
