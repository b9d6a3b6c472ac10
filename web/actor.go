package web

import (
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
)

const contentTypeActivity = "application/activity+json; charset=utf-8"

var activityContext = []any{
	"https://www.w3.org/ns/activitystreams",
	"https://w3id.org/security/v1",
}

// handleUserActor serves a local user as an ActivityPub Person.
func (s *Server) handleUserActor(c *gin.Context) {
	user, err := s.db.UserByUsername(c.Param("username"))
	if err != nil {
		c.Status(http.StatusInternalServerError)
		return
	}
	if user == nil || !user.IsLocal() {
		c.JSON(http.StatusNotFound, gin.H{"error": "user not found"})
		return
	}

	iri := fmt.Sprintf("%s/u/%s", s.conf.BaseURL(), user.Username)
	c.Header("Content-Type", contentTypeActivity)
	c.JSON(http.StatusOK, gin.H{
		"@context":          activityContext,
		"id":                iri,
		"type":              "Person",
		"preferredUsername": user.Username,
		"inbox":             fmt.Sprintf("%s/f/inbox", s.conf.BaseURL()),
		"endpoints": gin.H{
			"sharedInbox": fmt.Sprintf("%s/f/inbox", s.conf.BaseURL()),
		},
		"publicKey": gin.H{
			"id":           iri + "#main-key",
			"owner":        iri,
			"publicKeyPem": user.PublicKeyPem,
		},
	})
}

// handleMagazineActor serves a local magazine as an ActivityPub Group.
func (s *Server) handleMagazineActor(c *gin.Context) {
	mag, err := s.db.MagazineByName(c.Param("name"))
	if err != nil {
		c.Status(http.StatusInternalServerError)
		return
	}
	if mag == nil || !mag.IsLocal() {
		c.JSON(http.StatusNotFound, gin.H{"error": "magazine not found"})
		return
	}

	iri := fmt.Sprintf("%s/m/%s", s.conf.BaseURL(), mag.Name)
	c.Header("Content-Type", contentTypeActivity)
	c.JSON(http.StatusOK, gin.H{
		"@context":          activityContext,
		"id":                iri,
		"type":              "Group",
		"preferredUsername": mag.Name,
		"name":              mag.Title,
		"inbox":             fmt.Sprintf("%s/m/%s/inbox", s.conf.BaseURL(), mag.Name),
		"endpoints": gin.H{
			"sharedInbox": fmt.Sprintf("%s/f/inbox", s.conf.BaseURL()),
		},
		"publicKey": gin.H{
			"id":           iri + "#main-key",
			"owner":        iri,
			"publicKeyPem": mag.PublicKeyPem,
		},
	})
}
