package web

import (
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/feeds"
)

const feedLimit = 30

// handleMagazineFeed serves the latest entries of a magazine as RSS.
func (s *Server) handleMagazineFeed(c *gin.Context) {
	mag, err := s.db.MagazineByName(c.Param("name"))
	if err != nil {
		c.Status(http.StatusInternalServerError)
		return
	}
	if mag == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "magazine not found"})
		return
	}

	entries, err := s.db.EntriesByMagazine(mag.Id, feedLimit)
	if err != nil {
		c.Status(http.StatusInternalServerError)
		return
	}

	feed := &feeds.Feed{
		Title:       fmt.Sprintf("%s on %s", mag.Title, s.conf.Domain),
		Link:        &feeds.Link{Href: s.magazineIRI(mag)},
		Description: fmt.Sprintf("Latest entries in /m/%s", mag.Name),
		Created:     mag.CreatedAt,
	}

	for i := range entries {
		entry := &entries[i]
		link := entry.Url
		if link == "" {
			link = s.entryIRI(mag, entry)
		}
		feed.Items = append(feed.Items, &feeds.Item{
			Id:          s.entryIRI(mag, entry),
			Title:       entry.Title,
			Link:        &feeds.Link{Href: link},
			Description: entry.Body,
			Created:     entry.CreatedAt,
		})
	}

	rss, err := feed.ToRss()
	if err != nil {
		c.Status(http.StatusInternalServerError)
		return
	}
	c.Data(http.StatusOK, "application/rss+xml; charset=utf-8", []byte(rss))
}
