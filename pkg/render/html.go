package render

import (
	"bytes"
	"encoding/json"
	"fmt"
	"regexp"
	"text/template"

	"github.com/tdewolff/minify/v2"
	"github.com/tdewolff/minify/v2/css"
	"github.com/tdewolff/minify/v2/html"
	"github.com/tdewolff/minify/v2/js"
)

const standaloneHTMLTemplate = `<!DOCTYPE html>
<html>
<head>
  <meta charset="utf-8">
  <style>
    .error {
        color: red;
    }
  </style>
{{- if .Font}}
  <script type="text/javascript" src="{{.WebfontURL}}"></script>
{{- end}}
  <script type="text/javascript" src="{{.VegaURL}}"></script>
  <script type="text/javascript" src="{{.VegaLiteURL}}"></script>
  <script type="text/javascript" src="{{.VegaEmbedURL}}"></script>
</head>
<body>
  <div id="vis"></div>
  <script>
    var spec = {{.Spec}};
    var opt = {{.EmbedOptions}};
    function showError(el, error) {
        el.innerHTML = ('<div class="error" style="color:red;">'
                        + '<p>JavaScript Error: ' + error.message + '</p>'
                        + "<p>This usually means there's a typo in your chart specification. "
                        + "See the javascript console for the full traceback.</p>"
                        + '</div>');
        throw error;
    }
    function render() {
        const el = document.getElementById('vis');
        vegaEmbed("#vis", spec, opt).catch(error => showError(el, error));
    }
{{- if .Font}}
    WebFont.load({
        google: {
            families: ['{{.Font}}']
        },
        active: render,
        inactive: render
    });
{{- else}}
    render();
{{- end}}
  </script>
</body>
</html>
`

var (
	standaloneTemplate = template.Must(template.New("standalone").Parse(standaloneHTMLTemplate))
	htmlMinifier       = newMinifier()
)

func newMinifier() *minify.M {
	m := minify.New()
	m.AddFunc("text/css", css.Minify)
	m.Add("text/html", &html.Minifier{
		KeepDocumentTags: true,
		KeepEndTags:      true,
		KeepQuotes:       true,
	})
	m.AddFuncRegexp(regexp.MustCompile("^(application|text)/(x-)?(java|ecma)script$"), js.Minify)
	return m
}

type standalonePage struct {
	pageURLs
	Spec         string
	EmbedOptions string
	Font         string
}

// standaloneHTML renders a self-contained page that draws spec with vega-embed
func standaloneHTML(spec any, embedOptions map[string]any, mode, font string, versions func(string) string) ([]byte, error) {
	specJSON, err := json.Marshal(spec)
	if err != nil {
		return nil, fmt.Errorf("failed to encode spec: %w", err)
	}

	opt := make(map[string]any, len(embedOptions)+1)
	for k, v := range embedOptions {
		opt[k] = v
	}
	opt["mode"] = mode
	optJSON, err := json.Marshal(opt)
	if err != nil {
		return nil, fmt.Errorf("failed to encode embed options: %w", err)
	}

	page := standalonePage{
		pageURLs: pageURLs{
			VegaURL:      fmt.Sprintf(CDNURL, "vega", versions("vega")),
			VegaLiteURL:  fmt.Sprintf(CDNURL, "vega-lite", versions("vega-lite")),
			VegaEmbedURL: fmt.Sprintf(CDNURL, "vega-embed", versions("vega-embed")),
			WebfontURL:   WebfontURL,
		},
		Spec:         string(specJSON),
		EmbedOptions: string(optJSON),
		Font:         escapeJSString(font),
	}

	var buf bytes.Buffer
	if err := standaloneTemplate.Execute(&buf, page); err != nil {
		return nil, fmt.Errorf("failed to render html: %w", err)
	}

	out, err := htmlMinifier.Bytes("text/html", buf.Bytes())
	if err != nil {
		return nil, fmt.Errorf("failed to minify html: %w", err)
	}
	return out, nil
}
