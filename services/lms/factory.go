// Package lmssvc implements lms.Provider for the supported learning-management systems.
package lmssvc

import (
	"github.com/go-playground/validator/v10"
	"github.com/pkg/errors"

	"github.com/trezcool/lessonsync/core"
	"github.com/trezcool/lessonsync/core/lms"
)

type constructor func(conf lms.Config, logger core.Logger) lms.Provider

var constructors = map[string]constructor{
	KindMoodle: NewMoodle,
	KindCanvas: NewCanvas,
}

// Kinds lists the supported provider kinds.
func Kinds() []string {
	return []string{KindMoodle, KindCanvas}
}

// Factory builds providers from their config.
type Factory struct {
	validate *validator.Validate
	logger   core.Logger
}

func NewFactory(validate *validator.Validate, logger core.Logger) *Factory {
	return &Factory{validate: validate, logger: logger}
}

// New resolves conf.Kind to an adapter. An unknown kind is lms.ErrUnknownProvider.
func (f *Factory) New(conf lms.Config) (lms.Provider, error) {
	conf.Kind = core.CleanString(conf.Kind, true)
	ctor, ok := constructors[conf.Kind]
	if !ok {
		return nil, errors.Wrapf(lms.ErrUnknownProvider, "%q", conf.Kind)
	}
	if err := f.validate.Struct(conf); err != nil {
		return nil, errors.Wrap(err, lms.ErrInvalidConfig.Error())
	}
	return ctor(conf, f.logger), nil
}

// ConfigFor builds the lms.Config of kind from the application config.
func ConfigFor(kind string, conf *core.Config) (lms.Config, error) {
	pc, ok := conf.ProviderConf(kind)
	if !ok {
		return lms.Config{}, errors.Wrapf(lms.ErrUnknownProvider, "%q", kind)
	}
	return lms.Config{
		Kind:     core.CleanString(kind, true),
		BaseURL:  pc.URL,
		Token:    pc.Token,
		CourseID: pc.CourseID,
		Timeout:  conf.Sync.CallTimeout,
		Location: conf.SchoolLocation(),
	}.WithDefaults(), nil
}
