package web

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/gin-contrib/gzip"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/h-a-s-h/kbin/activitypub"
	"github.com/h-a-s-h/kbin/db"
	"github.com/h-a-s-h/kbin/util"
)

// Server wires the federation HTTP surface. Inbox handlers only validate
// and enqueue; all real work happens in the queue workers.
type Server struct {
	db         *db.DB
	dispatcher *activitypub.Dispatcher
	conf       util.Conf
	log        zerolog.Logger
}

func NewServer(database *db.DB, dispatcher *activitypub.Dispatcher, conf util.Conf, log zerolog.Logger) *Server {
	return &Server{
		db:         database,
		dispatcher: dispatcher,
		conf:       conf,
		log:        log,
	}
}

// Router builds the gin engine. Returned rather than run so tests can drive
// it through httptest.
func (s *Server) Router() *gin.Engine {
	if !s.conf.Debug {
		gin.SetMode(gin.ReleaseMode)
	}
	g := gin.New()
	g.Use(gin.Recovery())
	g.Use(gzip.Gzip(gzip.DefaultCompression))

	// Global limit: 10 req/s per IP, burst 20.
	g.Use(RateLimitMiddleware(NewRateLimiter(rate.Limit(10), 20)))

	g.GET("/.well-known/webfinger", s.handleWebfinger)
	g.GET("/u/:username", s.handleUserActor)
	g.GET("/m/:name", s.handleMagazineActor)
	g.GET("/m/:name/feed", s.handleMagazineFeed)
	g.GET("/m/:name/t/:id", s.handleEntryObject)
	g.GET("/m/:name/p/:id", s.handlePostObject)

	if s.conf.WithFederation {
		// Stricter limit on inboxes: 5 req/s per IP, and bodies capped at 1MB.
		apLimiter := RateLimitMiddleware(NewRateLimiter(rate.Limit(5), 10))
		maxBody := MaxBytesMiddleware(1 * 1024 * 1024)

		g.POST("/f/inbox", apLimiter, maxBody, func(c *gin.Context) {
			s.handleInbox(c, "")
		})
		g.POST("/m/:name/inbox", apLimiter, maxBody, func(c *gin.Context) {
			s.handleInbox(c, c.Param("name"))
		})
	}

	return g
}

// Run serves until the listener fails.
func (s *Server) Run() error {
	addr := fmt.Sprintf("%s:%d", s.conf.Host, s.conf.HttpPort)
	s.log.Info().Str("addr", addr).Msg("http server starting")
	return s.Router().Run(addr)
}

// handleInbox accepts one activity for asynchronous processing. 202 means
// queued, nothing more; processing outcomes are never reported to the
// sender.
func (s *Server) handleInbox(c *gin.Context, magazine string) {
	body, err := c.GetRawData()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unreadable body"})
		return
	}

	if s.conf.VerifySignatures {
		if err := s.verifySignature(c.Request, body); err != nil {
			s.log.Debug().Err(err).Msg("inbox signature rejected")
			c.JSON(http.StatusUnauthorized, gin.H{"error": "bad signature"})
			return
		}
	}

	if err := s.dispatcher.Receive(c.Request.Context(), body, magazine); err != nil {
		if errors.Is(err, activitypub.ErrRejected) {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		s.log.Error().Err(err).Msg("failed to accept activity")
		c.Status(http.StatusInternalServerError)
		return
	}

	c.Status(http.StatusAccepted)
}

// verifySignature checks the HTTP signature against the actor's cached key.
// An actor this server has never seen passes unverified: fetching keys here
// would put network I/O on the request path, and the activity is parsed
// and attributed again in the worker anyway.
func (s *Server) verifySignature(req *http.Request, body []byte) error {
	var env struct {
		Actor string `json:"actor"`
	}
	if err := json.Unmarshal(body, &env); err != nil || env.Actor == "" {
		return nil
	}

	user, err := s.db.UserByApID(env.Actor)
	if err != nil {
		return err
	}
	if user == nil || user.PublicKeyPem == "" {
		return nil
	}

	signer, err := activitypub.VerifyRequest(req, user.PublicKeyPem)
	if err != nil {
		return err
	}
	if signer != env.Actor {
		return fmt.Errorf("signature by %s does not match actor %s", signer, env.Actor)
	}
	return nil
}
