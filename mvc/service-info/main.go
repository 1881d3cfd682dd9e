package serviceInfo

import (
	"net/http"

	serviceInfo "cohortkit/models/constants/service-info"

	"github.com/labstack/echo"
)

// Spec: https://github.com/ga4gh-discovery/ga4gh-service-info
func GetServiceInfo(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]interface{}{
		"type": map[string]interface{}{
			"artifact": serviceInfo.SERVICE_ARTIFACT,
			"group":    serviceInfo.SERVICE_TYPE_NO_VER,
			"version":  serviceInfo.SERVICE_VERSION,
		},
		"id":          serviceInfo.SERVICE_ID,
		"name":        serviceInfo.SERVICE_NAME,
		"description": serviceInfo.SERVICE_DESCRIPTION,
		"organization": map[string]string{
			"name": "Centre for Population Genomics",
			"url":  "https://www.populationgenomics.org.au",
		},
		"contactUrl": serviceInfo.SERVICE_CONTACT,
		"version":    serviceInfo.SERVICE_VERSION,
	})
}

func GetWelcome(c echo.Context) error {
	return c.JSON(http.StatusOK, serviceInfo.SERVICE_WELCOME)
}
