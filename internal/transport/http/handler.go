package http

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/richardliu001/account-events/internal/model"
	"github.com/richardliu001/account-events/internal/repo"
	"github.com/richardliu001/account-events/internal/resolver"
	"github.com/richardliu001/account-events/internal/service"
)

func RegisterHandlers(r *gin.Engine, svc *service.AccountHolderService) {
	v1 := r.Group("/v1")
	{
		v1.POST("/account-holders", createHandler(svc))
		v1.PATCH("/account-holders/:id", updateHandler(svc))
		v1.DELETE("/account-holders/:id", deleteHandler(svc))
		v1.GET("/account-holders/:id", getHandler(svc))
		v1.GET("/account-holders/:id/events", historyHandler(svc))
		v1.GET("/events", searchHandler(svc))
	}
}

type createReq struct {
	service.AccountHolder
	Metadata model.Fields `json:"metadata"`
}

type updateReq struct {
	EventName string       `json:"event_name"`
	Changes   model.Fields `json:"changes" binding:"required"`
	Metadata  model.Fields `json:"metadata"`
}

type deleteReq struct {
	Metadata model.Fields `json:"metadata"`
}

// metadata merges request context into caller-supplied metadata.
func metadata(c *gin.Context, supplied model.Fields) model.Fields {
	md := supplied.Clone()
	if id := c.GetString(requestIDKey); id != "" {
		md["correlation_id"] = id
	}
	if actor := c.GetHeader(HeaderActor); actor != "" {
		md["actor"] = actor
	}
	return md
}

// statusOf maps domain errors to HTTP statuses.
func statusOf(err error) int {
	switch {
	case errors.Is(err, resolver.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, resolver.ErrAlreadyDeleted):
		return http.StatusGone
	case errors.Is(err, repo.ErrConflict):
		return http.StatusConflict
	case errors.Is(err, repo.ErrStoreUnavailable):
		return http.StatusServiceUnavailable
	case errors.Is(err, service.ErrNoChanges),
		errors.Is(err, service.ErrInvalidField),
		errors.Is(err, service.ErrInvalidEventName),
		errors.Is(err, repo.ErrInvalidEvent):
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}

func writeError(c *gin.Context, err error) {
	c.JSON(statusOf(err), gin.H{"error": err.Error()})
}

func createHandler(svc *service.AccountHolderService) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req createReq
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		evt, err := svc.Create(c, req.AccountHolder, metadata(c, req.Metadata))
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusCreated, evt)
	}
}

func updateHandler(svc *service.AccountHolderService) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req updateReq
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		evt, err := svc.Update(c, c.Param("id"), req.Changes, req.EventName, metadata(c, req.Metadata))
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, evt)
	}
}

func deleteHandler(svc *service.AccountHolderService) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req deleteReq
		// body is optional
		if c.Request.ContentLength > 0 {
			if err := c.ShouldBindJSON(&req); err != nil {
				c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
				return
			}
		}
		evt, err := svc.Delete(c, c.Param("id"), metadata(c, req.Metadata))
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, evt)
	}
}

func getHandler(svc *service.AccountHolderService) gin.HandlerFunc {
	return func(c *gin.Context) {
		ah, err := svc.Get(c, c.Param("id"))
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, ah)
	}
}

func historyHandler(svc *service.AccountHolderService) gin.HandlerFunc {
	return func(c *gin.Context) {
		evts, err := svc.History(c, c.Param("id"))
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, evts)
	}
}

func searchHandler(svc *service.AccountHolderService) gin.HandlerFunc {
	return func(c *gin.Context) {
		name := c.Query("name")
		if name == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "name is required"})
			return
		}
		evts, err := svc.Search(c, name)
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, evts)
	}
}
