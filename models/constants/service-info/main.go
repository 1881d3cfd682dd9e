package serviceInfo

import "fmt"

type ServiceInfo string

var (
	SERVICE_NAME        ServiceInfo = "cohortkit batch service"
	SERVICE_WELCOME     ServiceInfo = "Welcome to the cohortkit batch API!"
	SERVICE_DESCRIPTION ServiceInfo = "Runs job graphs submitted by cohortkit pipelines."
	SERVICE_CONTACT     ServiceInfo = "mailto:software@populationgenomics.org.au"

	SERVICE_ARTIFACT    ServiceInfo = "cohortkit"
	SERVICE_VERSION     ServiceInfo = "0.1.0"
	SERVICE_TYPE_NO_VER ServiceInfo = ServiceInfo(fmt.Sprintf("org.populationgenomics:%s", SERVICE_ARTIFACT))
	SERVICE_ID          ServiceInfo = SERVICE_TYPE_NO_VER
	SERVICE_TYPE        ServiceInfo = ServiceInfo(fmt.Sprintf("%s:%s", SERVICE_TYPE_NO_VER, SERVICE_VERSION))
)
