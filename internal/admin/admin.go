// Package admin serves the read-only HTTP view of a host: health, peers,
// objects and prometheus metrics. Handlers only read published snapshots.
package admin

import (
	"net/http"
	"strings"
	"time"

	"github.com/RobJellinghaus/Holofunk3-sub001/internal/auth"
	"github.com/RobJellinghaus/Holofunk3-sub001/internal/distributed"
	"github.com/RobJellinghaus/Holofunk3-sub001/internal/observability"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
)

const Version = "0.1.0"

// SnapshotSource is satisfied by *distributed.Host.
type SnapshotSource interface {
	Snapshot() *distributed.Snapshot
}

type Config struct {
	// Label tags request metrics; usually the host's short token.
	Label    string
	KindName func(distributed.Kind) string
	// Token, when set, is required as a bearer token on the state routes.
	// Health, readiness and metrics stay open.
	Token string
}

type Server struct {
	cfg     Config
	source  SnapshotSource
	started time.Time
	engine  *gin.Engine
}

func New(source SnapshotSource, cfg Config) *Server {
	if cfg.KindName == nil {
		cfg.KindName = func(k distributed.Kind) string { return "" }
	}
	s := &Server{
		cfg:     cfg,
		source:  source,
		started: time.Now(),
		engine:  gin.New(),
	}
	s.engine.Use(
		gin.Recovery(),
		observability.RequestLogger(log.Logger),
		observability.RequestMetricsMiddleware(cfg.Label),
	)
	s.registerRoutes()
	return s
}

// Engine exposes the router so other handlers, such as the peer endpoint,
// can share the listener.
func (s *Server) Engine() *gin.Engine {
	return s.engine
}

type objectView struct {
	distributed.ObjectInfo
	KindName string `json:"kind_name,omitempty"`
}

func (s *Server) registerRoutes() {
	s.engine.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":    "ok",
			"uptime":    time.Since(s.started).String(),
			"component": "holohost",
			"version":   Version,
		})
	})

	s.engine.GET("/ready", func(c *gin.Context) {
		snap := s.source.Snapshot()
		ready := snap != nil && snap.Polls > 0
		status := http.StatusOK
		if !ready {
			status = http.StatusServiceUnavailable
		}
		c.JSON(status, gin.H{"ready": ready})
	})

	s.engine.GET("/metrics", gin.WrapH(promhttp.Handler()))

	state := s.engine.Group("/")
	if s.cfg.Token != "" {
		state.Use(auth.RequireBearer(auth.SharedToken(s.cfg.Token)))
	}

	state.GET("/host", func(c *gin.Context) {
		snap := s.source.Snapshot()
		if snap == nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "no snapshot yet"})
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"token":    snap.Token,
			"name":     snap.Name,
			"address":  snap.Address,
			"listener": snap.Listener,
			"polls":    snap.Polls,
			"ids":      snap.IDsIssued,
			"stats":    snap.Stats,
		})
	})

	state.GET("/peers", func(c *gin.Context) {
		snap := s.source.Snapshot()
		if snap == nil {
			c.JSON(http.StatusOK, gin.H{"peers": []distributed.PeerInfo{}})
			return
		}
		c.JSON(http.StatusOK, gin.H{"peers": snap.Peers})
	})

	state.GET("/objects", func(c *gin.Context) {
		role := strings.ToLower(strings.TrimSpace(c.Query("role")))
		if role != "" && role != "owner" && role != "proxy" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "role must be owner or proxy"})
			return
		}
		out := []objectView{}
		if snap := s.source.Snapshot(); snap != nil {
			for _, o := range snap.Objects {
				if role != "" && o.Role != role {
					continue
				}
				out = append(out, s.view(o))
			}
		}
		c.JSON(http.StatusOK, gin.H{"objects": out})
	})

	state.GET("/objects/:id", func(c *gin.Context) {
		id := c.Param("id")
		if snap := s.source.Snapshot(); snap != nil {
			for _, o := range snap.Objects {
				if o.ID == id {
					c.JSON(http.StatusOK, s.view(o))
					return
				}
			}
		}
		c.JSON(http.StatusNotFound, gin.H{"error": "object not found"})
	})
}

func (s *Server) view(o distributed.ObjectInfo) objectView {
	return objectView{ObjectInfo: o, KindName: s.cfg.KindName(distributed.Kind(o.Kind))}
}
