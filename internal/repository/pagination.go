package repository

import "gorm.io/gorm"

const (
	DefaultPage     = 1
	DefaultPageSize = 20
	MaxPageSize     = 100
)

type PageRequest struct {
	Page     int
	PageSize int
}

type PageResult[T any] struct {
	Items      []T   `json:"items"`
	Page       int   `json:"page"`
	PageSize   int   `json:"page_size"`
	Total      int64 `json:"total"`
	TotalPages int   `json:"total_pages"`
}

// MapPage converts the items of a page and keeps its position.
func MapPage[T, U any](p PageResult[T], fn func(T) U) PageResult[U] {
	items := make([]U, 0, len(p.Items))
	for _, it := range p.Items {
		items = append(items, fn(it))
	}
	return PageResult[U]{Items: items, Page: p.Page, PageSize: p.PageSize, Total: p.Total, TotalPages: p.TotalPages}
}

func normalizePageRequest(req PageRequest) PageRequest {
	if req.Page < 1 {
		req.Page = DefaultPage
	}
	if req.PageSize < 1 {
		req.PageSize = DefaultPageSize
	}
	if req.PageSize > MaxPageSize {
		req.PageSize = MaxPageSize
	}
	return req
}

func calcTotalPages(total int64, pageSize int) int {
	if total <= 0 || pageSize <= 0 {
		return 0
	}
	return int((total + int64(pageSize) - 1) / int64(pageSize))
}

// paginate counts base, then loads one page of it in the given order.
func paginate[T any](base *gorm.DB, req PageRequest, order ...string) (PageResult[T], error) {
	req = normalizePageRequest(req)
	result := PageResult[T]{Page: req.Page, PageSize: req.PageSize, Items: []T{}}
	if err := base.Session(&gorm.Session{}).Count(&result.Total).Error; err != nil {
		return PageResult[T]{}, err
	}
	q := base
	for _, o := range order {
		q = q.Order(o)
	}
	if err := q.Offset((req.Page - 1) * req.PageSize).Limit(req.PageSize).Find(&result.Items).Error; err != nil {
		return PageResult[T]{}, err
	}
	result.TotalPages = calcTotalPages(result.Total, req.PageSize)
	return result, nil
}
