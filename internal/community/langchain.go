package community

import (
	"net/http"

	lctools "github.com/tmc/langchaingo/tools"
	"github.com/tmc/langchaingo/tools/duckduckgo"
	"github.com/tmc/langchaingo/tools/wikipedia"

	"github.com/nugget/butler/internal/buildinfo"
	"github.com/nugget/butler/internal/tools"
)

// The langchaingo tools take one string and are registered as
// invocable objects; the invoker passes the single argument through.

func duckDuckGoEntry(httpClient *http.Client) Entry {
	return Entry{
		Description: "Search DuckDuckGo. Returns titles, descriptions and URLs of the top results.",
		Parameters:  queryParams("query", "The search query."),
		New: func(args Args) (tools.Impl, error) {
			n, err := args.Int("max_results", 5)
			if err != nil {
				return tools.Impl{}, err
			}
			t, err := duckduckgo.New(n, args.String("user_agent", buildinfo.UserAgent()),
				duckduckgo.WithHTTPClient(httpClient))
			if err != nil {
				return tools.Impl{}, err
			}
			return tools.Object(t), nil
		},
	}
}

func wikipediaEntry(httpClient *http.Client) Entry {
	return Entry{
		Description: "Look up people, places, companies, historical events and other subjects on Wikipedia.",
		Parameters:  queryParams("query", "The subject to look up."),
		New: func(args Args) (tools.Impl, error) {
			t := wikipedia.New(args.String("user_agent", buildinfo.UserAgent()),
				wikipedia.WithHTTPClient(httpClient))
			var err error
			if t.TopK, err = args.Int("top_k", t.TopK); err != nil {
				return tools.Impl{}, err
			}
			if t.DocMaxChars, err = args.Int("doc_max_chars", t.DocMaxChars); err != nil {
				return tools.Impl{}, err
			}
			t.LanguageCode = args.String("language", t.LanguageCode)
			return tools.Object(t), nil
		},
	}
}

func calculatorEntry() Entry {
	return Entry{
		Description: "Evaluate a math expression, including functions such as sqrt, pow and floor.",
		Parameters:  queryParams("expression", "A Starlark math expression, e.g. sqrt(2) * pow(3, 2)."),
		New: func(Args) (tools.Impl, error) {
			return tools.Object(lctools.Calculator{}), nil
		},
	}
}
