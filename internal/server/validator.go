package server

import (
	"github.com/go-playground/validator/v10"
)

// Validator echo 请求校验器，基于 go-playground/validator 的结构体标签
type Validator struct {
	validate *validator.Validate
}

// NewValidator 创建校验器
func NewValidator() *Validator {
	return &Validator{validate: validator.New()}
}

// Validate 实现 echo.Validator
func (v *Validator) Validate(i interface{}) error {
	return v.validate.Struct(i)
}
