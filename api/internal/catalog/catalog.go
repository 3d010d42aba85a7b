package catalog

import (
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"

	"github.com/go-viper/mapstructure/v2"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/rawbytes"
	"github.com/knadh/koanf/v2"

	"music-studio-bot/api/internal/expert"
	"music-studio-bot/api/internal/logging"
)

//go:embed data/*.yaml
var embedded embed.FS

// Ключи категорий в порядке меню.
const (
	AudioInterface = "audio_interface"
	Soundproofing  = "soundproofing"
	Microphone     = "microphone"
	StudioMonitor  = "studio_monitor"
	MixingConsole  = "mixing_console"
)

var Categories = []string{AudioInterface, Soundproofing, Microphone, StudioMonitor, MixingConsole}

var (
	ErrUnknownCategory = errors.New("unknown category")
	ErrNoData          = errors.New("no data for category")
)

// Data — вопросы и кандидаты одной категории.
type Data struct {
	Questions  []string        `koanf:"questions"`
	Candidates []expert.Record `koanf:"candidates"`
}

// Loader читает <key>.yaml из каталога на диске или из встроенных данных.
type Loader struct {
	fsys fs.FS
}

// NewLoader: пустой dir — встроенные данные.
func NewLoader(dir string) *Loader {
	if dir == "" {
		sub, _ := fs.Sub(embedded, "data")
		return &Loader{fsys: sub}
	}
	return &Loader{fsys: os.DirFS(dir)}
}

// NewLoaderFS — для тестов и нестандартных источников.
func NewLoaderFS(fsys fs.FS) *Loader { return &Loader{fsys: fsys} }

func Known(key string) bool {
	for _, c := range Categories {
		if c == key {
			return true
		}
	}
	return false
}

// LoadCategory возвращает свежую копию данных категории.
// Ошибки оборачиваются в *expert.ConfigurationError.
func (l *Loader) LoadCategory(key string) (Data, error) {
	if !Known(key) {
		return Data{}, &expert.ConfigurationError{Reason: "category " + key, Err: ErrUnknownCategory}
	}
	name := path.Clean(key) + ".yaml"
	raw, err := fs.ReadFile(l.fsys, name)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return Data{}, &expert.ConfigurationError{Reason: "category " + key, Err: ErrNoData}
		}
		return Data{}, &expert.ConfigurationError{Reason: "read " + name, Err: err}
	}

	k := koanf.New(".")
	if err := k.Load(rawbytes.Provider(raw), yaml.Parser()); err != nil {
		return Data{}, &expert.ConfigurationError{Reason: "parse " + name, Err: err}
	}
	var data Data
	if err := k.UnmarshalWithConf("", &data, strictDecoding()); err != nil {
		return Data{}, &expert.ConfigurationError{Reason: "decode " + name, Err: err}
	}
	if len(data.Questions) == 0 {
		return Data{}, &expert.ConfigurationError{Reason: fmt.Sprintf("%s: no questions", name)}
	}
	logging.Debug().Str("category", key).Int("questions", len(data.Questions)).
		Int("candidates", len(data.Candidates)).Msg("catalog loaded")
	return data, nil
}

// NewModel загружает категорию и строит по ней экспертную модель.
func (l *Loader) NewModel(key string, rates expert.Rates) (*expert.Model, error) {
	data, err := l.LoadCategory(key)
	if err != nil {
		return nil, err
	}
	return expert.NewModel(key, data.Questions, data.Candidates, rates)
}

// strictDecoding: без приведения типов. Скаляр или map вместо списка, число вместо строки
// и строка вместо числа дают ошибку.
func strictDecoding() koanf.UnmarshalConf {
	return koanf.UnmarshalConf{
		Tag: "koanf",
		DecoderConfig: &mapstructure.DecoderConfig{
			DecodeHook: mapstructure.ComposeDecodeHookFunc(
				mapstructure.StringToTimeDurationHookFunc(),
				mapstructure.TextUnmarshallerHookFunc()),
			WeaklyTypedInput: false,
		},
	}
}
