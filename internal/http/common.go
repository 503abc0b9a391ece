package http

import (
	"github.com/gin-gonic/gin"

	"github.com/storytrim/server/internal/config"
	"github.com/storytrim/server/internal/http/respond"
	"github.com/storytrim/server/internal/parsers"
	"github.com/storytrim/server/internal/services"
)

// CommonController serves data every client needs at startup: the trimming
// presets and the chapter title rules used to split local TXT files.
type CommonController struct {
	books *services.BookService
	rules *config.ParserRulesStore
}

func NewCommonController(books *services.BookService, rules *config.ParserRulesStore) *CommonController {
	return &CommonController{books: books, rules: rules}
}

func (cc *CommonController) RegisterRoutes(group *gin.RouterGroup) {
	group.GET("/prompts", cc.Prompts)
	group.GET("/parser-rules", cc.ParserRules)
}

func (cc *CommonController) Prompts(c *gin.Context) {
	prompts, err := cc.books.ListPrompts(c.Request.Context())
	if err != nil {
		respond.Fail(c, err)
		return
	}
	respond.OK(c, prompts)
}

// ParserRules returns {version, rules}. Without configured rules the
// built-in defaults are served as version 0.
func (cc *CommonController) ParserRules(c *gin.Context) {
	var current config.Parser
	if cc.rules != nil {
		current = cc.rules.Get()
	}
	if len(current.Rules) == 0 {
		for _, r := range parsers.DefaultRules {
			current.Rules = append(current.Rules, config.ParserRule{Name: r.Name, Pattern: r.Pattern, Weight: r.Weight})
		}
	}
	respond.OK(c, current)
}
