package pagination

import (
	"fmt"
	"strconv"
)

// 缺省分页参数。职位列表使用 DefaultJobPerPage。
const (
	DefaultPage       = 1
	DefaultPerPage    = 15
	DefaultJobPerPage = 10
)

// Result 是所有列表接口共用的分页信封。
type Result struct {
	CurrentPage int     `json:"current_page"`
	Data        any     `json:"data"`
	From        int     `json:"from"`
	LastPage    int     `json:"last_page"`
	NextPageURL *string `json:"next_page_url"`
	PerPage     int     `json:"per_page"`
	PrevPageURL *string `json:"prev_page_url"`
	To          int     `json:"to"`
	Total       int64   `json:"total"`
}

// Params 表示解析后的分页参数。
type Params struct {
	Page    int
	PerPage int
}

// Offset 返回跳过的行数。
func (p Params) Offset() int {
	return (p.Page - 1) * p.PerPage
}

// ParseParams 解析 page/per_page 查询参数，缺失或非数字时回落到默认值。
func ParseParams(pageRaw, perPageRaw string, defaultPerPage int) Params {
	if defaultPerPage <= 0 {
		defaultPerPage = DefaultPerPage
	}

	page, err := strconv.Atoi(pageRaw)
	if err != nil || page < 1 {
		page = DefaultPage
	}
	perPage, err := strconv.Atoi(perPageRaw)
	if err != nil || perPage < 1 {
		perPage = defaultPerPage
	}

	return Params{Page: page, PerPage: perPage}
}

// New 组装分页信封。baseURL 用于拼接上一页/下一页链接。
func New(data any, total int64, params Params, baseURL string) Result {
	lastPage := int((total + int64(params.PerPage) - 1) / int64(params.PerPage))
	if lastPage < 1 {
		lastPage = 1
	}

	skip := params.Offset()
	from := skip + 1
	to := skip + params.PerPage
	if int64(to) > total {
		to = int(total)
	}
	if total == 0 {
		from = 0
		to = 0
	}

	result := Result{
		CurrentPage: params.Page,
		Data:        data,
		From:        from,
		LastPage:    lastPage,
		PerPage:     params.PerPage,
		To:          to,
		Total:       total,
	}

	if params.Page < lastPage {
		next := pageURL(baseURL, params.Page+1)
		result.NextPageURL = &next
	}
	if params.Page > 1 {
		prev := pageURL(baseURL, params.Page-1)
		result.PrevPageURL = &prev
	}

	return result
}

func pageURL(baseURL string, page int) string {
	return fmt.Sprintf("%s?page=%d", baseURL, page)
}
