package trigger

import "fmt"

// JobConfig is the environment of the training and inference trigger
// functions.
type JobConfig struct {
	ECRRepositoryName string `env:"ECRRepositoryName,required"`
	ArtifactsBucket   string `env:"ArtifactsBucket,required"`
	ImageURI          string `env:"ImageUri,required"`
	SecurityGroupID   string `env:"SecurityGroupId,required"`
	Subnet0           string `env:"Subnet0,required"`
	Subnet1           string `env:"Subnet1"`
	SageMakerRoleARN  string `env:"SagemakerRoleArn,required"`
	EventRoleARN      string `env:"EventRole,required"`
	Region            string `env:"Region,required"`
	AccountID         string `env:"AccountId,required"`
	SelfLambdaName    string `env:"SelfLambdaName,required"`
	Project           string `env:"Project" envDefault:"mlops"`
	Owner             string `env:"Owner"`
}

// Subnets returns the configured private subnets.
func (c JobConfig) Subnets() []string {
	out := []string{c.Subnet0}
	if c.Subnet1 != "" {
		out = append(out, c.Subnet1)
	}
	return out
}

// Tags are attached to every job and rule the trigger creates.
func (c JobConfig) Tags() map[string]string {
	tags := map[string]string{"Project": c.Project}
	if c.Owner != "" {
		tags["Owner"] = c.Owner
	}
	return tags
}

// SelfARN is the ARN of the trigger function, the target of its schedule rule.
func (c JobConfig) SelfARN() string {
	return fmt.Sprintf("arn:aws:lambda:%s:%s:function:%s", c.Region, c.AccountID, c.SelfLambdaName)
}
