package handlers

import (
	"fmt"
	"net/http"

	"github.com/interopehrate/r2d-access-gateway/internal/application"
	"github.com/oapi-codegen/runtime"
)

func pathParam(r *http.Request, name string) (string, error) {
	var value string
	err := runtime.BindStyledParameterWithOptions("simple", name, r.PathValue(name), &value, runtime.BindStyledParameterOptions{
		ParamLocation: runtime.ParamLocationPath,
		Explode:       false,
		Required:      true,
	})
	if err != nil {
		return "", application.NewInvalidInputError(fmt.Errorf("invalid format for parameter %s: %w", name, err))
	}
	return value, nil
}

type pageParams struct {
	Limit  int
	Offset int
}

func bindPage(r *http.Request) (pageParams, error) {
	var page pageParams
	query := r.URL.Query()

	if err := runtime.BindQueryParameter("form", true, false, "limit", query, &page.Limit); err != nil {
		return page, application.NewInvalidInputError(fmt.Errorf("invalid format for parameter limit: %w", err))
	}
	if err := runtime.BindQueryParameter("form", true, false, "offset", query, &page.Offset); err != nil {
		return page, application.NewInvalidInputError(fmt.Errorf("invalid format for parameter offset: %w", err))
	}
	return page, nil
}
