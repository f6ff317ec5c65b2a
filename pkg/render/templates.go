package render

import (
	"strings"
	"sync"
)

// WebfontURL is the Google WebFont loader used when a font is requested
const WebfontURL = "https://ajax.googleapis.com/ajax/libs/webfont/1.6.26/webfont.js"

// CDNURL is the script location pattern for online rendering
const CDNURL = "https://cdn.jsdelivr.net/npm/%s@%s"

const fontPlaceholder = "INSERT_FONT_HERE"

// Page templates use text/template fields VegaURL, VegaLiteURL, VegaEmbedURL and WebfontURL.
const defaultHTMLTemplate = `
<!DOCTYPE html>
<html>
<head>
  <title>Embedding Vega-Lite</title>
  <script src="{{.VegaURL}}"></script>
  <script src="{{.VegaLiteURL}}"></script>
  <script src="{{.VegaEmbedURL}}"></script>
</head>
<body>
  <div id="vis"></div>
</body>
</html>
`

const fontHTMLTemplate = `
<!DOCTYPE html>
<html>
<head>
  <title>Embedding Vega-Lite</title>
  <script src="{{.WebfontURL}}"></script>
  <script src="{{.VegaURL}}"></script>
  <script src="{{.VegaLiteURL}}"></script>
  <script src="{{.VegaEmbedURL}}"></script>
</head>
<body>
  <div id="vis"></div>
</body>
</html>
`

// loadChartCode renders the chart and reports through done. Shared by both scripts.
const loadChartCode = `
load_chart = function() {
    if (format === 'vega') {
        if (embedOpt.mode === 'vega-lite') {
            vegaLite = (typeof vegaLite === "undefined") ? vl : vegaLite;
            try {
                const compiled = vegaLite.compile(spec);
                spec = compiled.spec;
            } catch(error) {
                done({error: error.toString()});
                return;
            }
        }
        done({result: spec});
        return;
    }
    vegaEmbed('#vis', spec, embedOpt).then(function(result) {
        if (format === 'png') {
            result.view
                .toCanvas(embedOpt.scaleFactor || 1)
                .then(function(canvas){return canvas.toDataURL('image/png');})
                .then(result => done({result}))
                .catch(function(err) {
                    console.error(err);
                    done({error: err.toString()});
                });
        } else if (format === 'svg') {
            result.view
                .toSVG(embedOpt.scaleFactor || 1)
                .then(result => done({result}))
                .catch(function(err) {
                    console.error(err);
                    done({error: err.toString()});
                });
        } else {
            const error = "Unrecognized format: " + format;
            console.error(error);
            done({error});
        }
    }).catch(function(err) {
        console.error(err);
        done({error: err.toString()});
    });
}
`

const scriptArguments = `
let spec = arguments[0];
const embedOpt = arguments[1];
const format = arguments[2];
const done = arguments[3];
`

const defaultExtractCode = scriptArguments + loadChartCode + `
load_chart();
`

const fontExtractCodeTemplate = scriptArguments + loadChartCode + `
WebFont.load({
    google: {
        families: ['` + fontPlaceholder + `']
    },
    active: load_chart,
    inactive: load_chart
});
`

var (
	templateMu     sync.RWMutex
	activeHTML     = defaultHTMLTemplate
	activeExtract  = defaultExtractCode
	activeFontName string
)

// LoadFont makes every subsequent render load the named Google Font before drawing.
// An empty name leaves the current templates in place.
func LoadFont(font string) {
	font = strings.TrimSpace(font)
	if font == "" {
		return
	}

	templateMu.Lock()
	defer templateMu.Unlock()

	activeHTML = fontHTMLTemplate
	activeExtract = fontExtractCode(font)
	activeFontName = font
}

// ActiveFont returns the font applied by LoadFont, if any
func ActiveFont() string {
	templateMu.RLock()
	defer templateMu.RUnlock()
	return activeFontName
}

func activeTemplates() (html, extract string) {
	templateMu.RLock()
	defer templateMu.RUnlock()
	return activeHTML, activeExtract
}

func fontExtractCode(font string) string {
	return strings.ReplaceAll(fontExtractCodeTemplate, fontPlaceholder, escapeJSString(font))
}

var jsStringEscaper = strings.NewReplacer(
	`\`, `\\`,
	`'`, `\'`,
	"\n", `\n`,
	"\r", `\r`,
	"<", `\u003c`,
	">", `\u003e`,
)

// escapeJSString makes s safe inside a single-quoted JavaScript string literal
func escapeJSString(s string) string {
	return jsStringEscaper.Replace(s)
}
