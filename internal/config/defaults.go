package config

import (
	"fmt"
	"strings"
)

// Resource names used when platform.yaml leaves them empty.
const (
	DefaultStorageBucket    = "mlops-storage-bucket"
	DefaultGlueDatabase     = "mlops-glue-database"
	DefaultStateMachineName = "mlops-etl-process"
	DefaultArtifactsBucket  = "mlops-artifacts-bucket"
	DefaultClusterName      = "mlops-fargate-cluster"
	DefaultHostedZone       = "aast-innovation.iolap.com"
	DefaultAPIName          = "mlops-api"
	DefaultECRRepository    = "mlops-model-repository"
	DefaultAPIStage         = "prod"
	DefaultInferenceStage   = "inference"
)

// DefaultLandingPrefixes are the S3 prefixes whose new objects start the ETL pipeline.
var DefaultLandingPrefixes = []string{"raw/partitioned/csv/", "raw/total/csv/"}

// ApplyDefaults fills unset settings with the platform's standard names and sizes.
func (c *PlatformConfig) ApplyDefaults() {
	if c.Owner == "" {
		c.Owner = c.Project
	}
	if c.Pulumi.Project == "" {
		c.Pulumi.Project = c.Project
	}
	if c.Pulumi.Org == "" {
		c.Pulumi.Org = "organization"
	}

	s := &c.Storage
	setString(&s.BucketName, DefaultStorageBucket)
	setString(&s.GlueDatabase, DefaultGlueDatabase)
	setString(&s.StateMachineName, DefaultStateMachineName)
	if len(s.LandingPrefixes) == 0 {
		s.LandingPrefixes = append([]string(nil), DefaultLandingPrefixes...)
	}
	setString(&s.ETLImage, "etl")
	applyJobDefaults(&s.ConvertJob, "mlops-convert-job", "/mlops/etl/convert-job")
	applyJobDefaults(&s.TransformJob, "mlops-transform-job", "/mlops/etl/transform-job")
	applyFunctionDefaults(&s.Trigger, "mlops-etl-lambda", 300, 256)

	d := &c.Development
	setString(&d.ArtifactsBucket, DefaultArtifactsBucket)
	setString(&d.ClusterName, DefaultClusterName)
	setString(&d.HostedZone, DefaultHostedZone)
	setString(&d.APIName, DefaultAPIName)
	setString(&d.ECRRepository, DefaultECRRepository)
	setString(&d.APIStage, DefaultAPIStage)
	applyServiceDefaults(&d.MLflow, "mlflow", 5000, "/health")
	applyDatabaseDefaults(&d.MLflowDB, "mlops-mlflow-backend", "MLflowBackend", "mlflow-user", "15.4")
	applyFunctionDefaults(&d.Trigger, "mlops-training-lambda", 300, 128)

	i := &c.Inference
	applyServiceDefaults(&i.Grafana, "grafana", 3000, "/login")
	applyDatabaseDefaults(&i.GrafanaDB, "mlops-grafana", "Grafana", "grafana-user", "8.0.mysql_aurora.3.05.2")
	applyFunctionDefaults(&i.Trigger, "mlops-inference-lambda", 300, 128)
	setString(&i.APIStage, DefaultInferenceStage)
}

func setString(dst *string, def string) {
	if strings.TrimSpace(*dst) == "" {
		*dst = def
	}
}

func setInt(dst *int, def int) {
	if *dst == 0 {
		*dst = def
	}
}

func applyJobDefaults(j *JobSettings, name, logGroup string) {
	setString(&j.Name, name)
	setString(&j.LogGroup, logGroup)
	setInt(&j.CPU, 1024)
	setInt(&j.Memory, 4096)
}

func applyFunctionDefaults(f *FunctionSettings, name string, timeout, memory int) {
	setString(&f.Name, name)
	setInt(&f.TimeoutSeconds, timeout)
	setInt(&f.MemoryMB, memory)
}

func applyServiceDefaults(s *ServiceSettings, app string, port int, healthPath string) {
	setString(&s.Name, fmt.Sprintf("mlops-%s", app))
	setString(&s.Image, app)
	setString(&s.DomainName, app)
	setString(&s.HealthCheckPath, healthPath)
	setInt(&s.CPU, 1024)
	setInt(&s.Memory, 4096)
	setInt(&s.EphemeralStorageGiB, 30)
	setInt(&s.Port, port)
	setInt(&s.DesiredCount, 1)
	setInt(&s.HealthCheckInterval, 60)
	setInt(&s.HealthCheckTimeout, 10)
	setInt(&s.GracePeriodSeconds, 180)
}

func applyDatabaseDefaults(d *DatabaseSettings, id, dbName, user, version string) {
	setString(&d.ClusterIdentifier, id)
	setString(&d.DatabaseName, dbName)
	setString(&d.Username, user)
	setString(&d.EngineVersion, version)
	if d.MinCapacity == 0 {
		d.MinCapacity = 0.5
	}
	if d.MaxCapacity == 0 {
		d.MaxCapacity = 2
	}
}

// ImageRef resolves an image setting. Names declared under images resolve to
// repository:tag (rendering tagTemplate when needed); anything else is taken
// as a literal reference.
func (c *PlatformConfig) ImageRef(nameOrRef string, ctx TemplateContext) (string, error) {
	img, ok := c.Images[nameOrRef]
	if !ok {
		if strings.TrimSpace(nameOrRef) == "" {
			return "", fmt.Errorf("empty image reference")
		}
		return nameOrRef, nil
	}
	repo := strings.TrimSpace(img.Repository)
	if repo == "" {
		return "", fmt.Errorf("image %q must define repository", nameOrRef)
	}
	tag, err := ImageTag(nameOrRef, img, ctx)
	if err != nil {
		return "", err
	}
	return repo + ":" + tag, nil
}

// ImageTag returns the explicit tag or renders the tag template; "latest" when neither is set.
func ImageTag(name string, img ImageSpec, ctx TemplateContext) (string, error) {
	if tag := strings.TrimSpace(img.Tag); tag != "" {
		return tag, nil
	}
	if strings.TrimSpace(img.TagTemplate) == "" {
		return "latest", nil
	}
	rendered, err := RenderTemplate("image-tag-"+name, []byte(img.TagTemplate), ctx)
	if err != nil {
		return "", fmt.Errorf("render tagTemplate for image %q: %w", name, err)
	}
	tag := strings.TrimSpace(string(rendered))
	if tag == "" {
		return "", fmt.Errorf("tagTemplate for image %q rendered empty", name)
	}
	return tag, nil
}
