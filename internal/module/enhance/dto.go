package enhance

import (
	"errors"

	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"
	"github.com/homeglow/server/internal/module/enhance/provider"
)

// EnhanceForm holds the non-file fields of an enhance upload.
type EnhanceForm struct {
	Mode   string `form:"mode" binding:"omitempty,enhancemode"`
	Prompt string `form:"prompt" binding:"max=2000"`
}

// ModeOrDefault returns the requested mode, standard when none was sent.
func (f *EnhanceForm) ModeOrDefault() provider.Mode {
	if f.Mode == "" {
		return provider.ModeStandard
	}
	return provider.Mode(f.Mode)
}

// RegisterValidators installs the enhancemode tag on gin's validator.
func RegisterValidators() error {
	v, ok := binding.Validator.Engine().(*validator.Validate)
	if !ok {
		return errors.New("unexpected validator engine")
	}
	return v.RegisterValidation("enhancemode", func(fl validator.FieldLevel) bool {
		return provider.Mode(fl.Field().String()).Valid()
	})
}
