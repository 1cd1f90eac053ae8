package server

import (
	"net/http"

	"github.com/rendis/flowsketch/internal/share"
	"github.com/rendis/flowsketch/internal/store"
)

const recentShares = 6

type indexData struct {
	Title   string
	Version string
	Recent  []*store.Share
}

type sharePageData struct {
	Title   string
	Version string
	ShareID string
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	data := indexData{Title: "FlowSketch", Version: s.deps.Version}
	if s.deps.Shares != nil {
		recent, err := s.deps.Shares.Gallery(r.Context(), share.GalleryQuery{Limit: recentShares})
		if err != nil {
			s.deps.Logger.WarnContext(r.Context(), "load recent shares", "error", err)
		}
		data.Recent = recent
	}
	s.renderPage(w, "index.html", data)
}

// handleSharePage serves the viewer shell; the page fetches the share and its
// rendering from the API so views are counted once.
func (s *Server) handleSharePage(w http.ResponseWriter, r *http.Request) {
	s.renderPage(w, "share.html", sharePageData{
		Title:   "Shared flowchart",
		Version: s.deps.Version,
		ShareID: r.PathValue("id"),
	})
}
