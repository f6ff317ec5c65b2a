package main

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/tdewolff/argp"

	"github.com/yourusername/vegalite-server/pkg/config"
	"github.com/yourusername/vegalite-server/pkg/model"
	"github.com/yourusername/vegalite-server/pkg/secret"
)

type Keygen struct{}

type Encrypt struct {
	Key   string `short:"k" default:"" desc:"Fernet key, defaults to $VEGALITE_SERVER_SECRET_KEY"`
	Input string `index:"0" desc:"Spec file, - for stdin"`
}

type URL struct {
	Key    string `short:"k" default:"" desc:"Fernet key, defaults to $VEGALITE_SERVER_SECRET_KEY"`
	Plain  bool   `desc:"Send the spec unencrypted"`
	Host   string `short:"H" default:"http://localhost:5000" desc:"Server base URL"`
	Format string `short:"f" default:"png" desc:"Output format"`
	Width  int    `short:"w" default:"500" desc:"Chart width"`
	Input  string `index:"0" desc:"Spec file, - for stdin"`
}

func main() {
	root := argp.NewCmd(&URL{}, "Build /convert_spec URLs for a Vega-Lite server")
	root.AddCmd(&Keygen{}, "keygen", "Generate a new server key")
	root.AddCmd(&Encrypt{}, "encrypt", "Encrypt a spec into a token")
	root.Parse()
	root.PrintHelp()
}

func (cmd *Keygen) Run() error {
	key, err := secret.GenerateKey()
	if err != nil {
		return err
	}
	fmt.Println(key)
	return nil
}

func (cmd *Encrypt) Run() error {
	if cmd.Input == "" {
		return argp.ShowUsage
	}

	c, err := cipherFor(cmd.Key)
	if err != nil {
		return err
	}
	spec, err := readSpec(cmd.Input)
	if err != nil {
		return err
	}

	token, err := c.Encrypt(spec)
	if err != nil {
		return err
	}
	fmt.Println(token)
	return nil
}

func (cmd *URL) Run() error {
	if cmd.Input == "" {
		return argp.ShowUsage
	}

	if _, ok := model.ContentType(cmd.Format); !ok {
		return fmt.Errorf("unknown format '%s', expected one of %s", cmd.Format, strings.Join(model.Formats(), ", "))
	}

	spec, err := readSpec(cmd.Input)
	if err != nil {
		return err
	}

	var c *secret.Cipher
	if !cmd.Plain {
		if c, err = cipherFor(cmd.Key); err != nil {
			return err
		}
	}

	path, err := secret.BuildConvertURL(c, spec, cmd.Format, cmd.Width)
	if err != nil {
		return err
	}
	fmt.Println(strings.TrimSuffix(cmd.Host, "/") + path)
	return nil
}

func cipherFor(key string) (*secret.Cipher, error) {
	if key == "" {
		key = os.Getenv(config.EnvSecretKey)
	}
	if !secret.IsConfigured(key) {
		return nil, fmt.Errorf("no key given, use -k or set %s", config.EnvSecretKey)
	}
	return secret.NewCipher(key)
}

func readSpec(input string) (string, error) {
	var data []byte
	var err error
	if input == "-" {
		data, err = io.ReadAll(os.Stdin)
	} else {
		data, err = os.ReadFile(input)
	}
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(data)), nil
}
