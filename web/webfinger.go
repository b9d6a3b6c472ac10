package web

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

// handleWebfinger resolves acct:name@domain to the local user or magazine
// actor. Magazines share the account namespace the way kbin groups do.
func (s *Server) handleWebfinger(c *gin.Context) {
	resource := c.Query("resource")
	if !strings.HasPrefix(resource, "acct:") {
		c.JSON(http.StatusNotFound, gin.H{"error": "unsupported resource"})
		return
	}

	name := strings.TrimPrefix(resource, "acct:")
	name = strings.TrimSuffix(name, "@"+s.conf.Domain)
	if name == "" || strings.Contains(name, "@") {
		c.JSON(http.StatusNotFound, gin.H{"error": "not a local account"})
		return
	}

	var iri string
	if user, err := s.db.UserByUsername(name); err != nil {
		c.Status(http.StatusInternalServerError)
		return
	} else if user != nil && user.IsLocal() {
		iri = fmt.Sprintf("%s/u/%s", s.conf.BaseURL(), user.Username)
	} else if mag, err := s.db.MagazineByName(name); err != nil {
		c.Status(http.StatusInternalServerError)
		return
	} else if mag != nil && mag.IsLocal() {
		iri = fmt.Sprintf("%s/m/%s", s.conf.BaseURL(), mag.Name)
	} else {
		c.JSON(http.StatusNotFound, gin.H{"error": "no such account"})
		return
	}

	c.Header("Content-Type", "application/jrd+json; charset=utf-8")
	c.JSON(http.StatusOK, gin.H{
		"subject": fmt.Sprintf("acct:%s@%s", name, s.conf.Domain),
		"links": []gin.H{
			{
				"rel":  "self",
				"type": "application/activity+json",
				"href": iri,
			},
		},
	})
}
