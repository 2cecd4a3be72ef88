package service

import (
	"github.com/prn-tf/quill/internal/domain"
	"github.com/prn-tf/quill/internal/repository"
)

// Renderer is the presentation surface the services push refreshes to.
// One refresh covers every surface that shows view counts: the article
// list, any open detail view, the stats panel and the admin dashboard.
// Implementations must not block.
type Renderer interface {
	Refresh(articles []*domain.Article, stats repository.Stats)
}

// NopRenderer discards all refreshes.
type NopRenderer struct{}

// Refresh implements Renderer.
func (NopRenderer) Refresh([]*domain.Article, repository.Stats) {}
