package web

import (
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/h-a-s-h/kbin/domain"
)

// handleEntryObject serves one entry as an ActivityPub Page.
func (s *Server) handleEntryObject(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "invalid entry id"})
		return
	}

	entry, err := s.db.EntryById(id)
	if err != nil {
		c.Status(http.StatusInternalServerError)
		return
	}
	if entry == nil || entry.IsDeleted {
		c.JSON(http.StatusNotFound, gin.H{"error": "entry not found"})
		return
	}

	mag, err := s.db.MagazineById(entry.MagazineId)
	if err != nil || mag == nil {
		c.Status(http.StatusInternalServerError)
		return
	}
	author, err := s.db.UserById(entry.UserId)
	if err != nil || author == nil {
		c.Status(http.StatusInternalServerError)
		return
	}

	doc := gin.H{
		"@context":     activityContext,
		"id":           s.entryIRI(mag, entry),
		"type":         "Page",
		"name":         entry.Title,
		"content":      entry.Body,
		"attributedTo": s.userIRI(author),
		"audience":     s.magazineIRI(mag),
		"published":    entry.CreatedAt.Format(time.RFC3339),
	}
	if entry.Url != "" {
		doc["url"] = entry.Url
	}
	if entry.EditedAt != nil {
		doc["updated"] = entry.EditedAt.Format(time.RFC3339)
	}

	c.Header("Content-Type", contentTypeActivity)
	c.JSON(http.StatusOK, doc)
}

// handlePostObject serves one post as an ActivityPub Note.
func (s *Server) handlePostObject(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "invalid post id"})
		return
	}

	post, err := s.db.PostById(id)
	if err != nil {
		c.Status(http.StatusInternalServerError)
		return
	}
	if post == nil || post.IsDeleted {
		c.JSON(http.StatusNotFound, gin.H{"error": "post not found"})
		return
	}

	mag, err := s.db.MagazineById(post.MagazineId)
	if err != nil || mag == nil {
		c.Status(http.StatusInternalServerError)
		return
	}
	author, err := s.db.UserById(post.UserId)
	if err != nil || author == nil {
		c.Status(http.StatusInternalServerError)
		return
	}

	doc := gin.H{
		"@context":     activityContext,
		"id":           fmt.Sprintf("%s/m/%s/p/%s", s.conf.BaseURL(), mag.Name, post.Id),
		"type":         "Note",
		"content":      post.Body,
		"attributedTo": s.userIRI(author),
		"audience":     s.magazineIRI(mag),
		"published":    post.CreatedAt.Format(time.RFC3339),
	}
	if post.EditedAt != nil {
		doc["updated"] = post.EditedAt.Format(time.RFC3339)
	}

	c.Header("Content-Type", contentTypeActivity)
	c.JSON(http.StatusOK, doc)
}

// Local IRIs; remote entities keep the IRI they arrived with.

func (s *Server) userIRI(u *domain.User) string {
	if u.ApID != "" {
		return u.ApID
	}
	return fmt.Sprintf("%s/u/%s", s.conf.BaseURL(), u.Username)
}

func (s *Server) magazineIRI(m *domain.Magazine) string {
	if m.ApID != "" {
		return m.ApID
	}
	return fmt.Sprintf("%s/m/%s", s.conf.BaseURL(), m.Name)
}

func (s *Server) entryIRI(m *domain.Magazine, e *domain.Entry) string {
	if e.ApID != "" {
		return e.ApID
	}
	return fmt.Sprintf("%s/m/%s/t/%s", s.conf.BaseURL(), m.Name, e.Id)
}
