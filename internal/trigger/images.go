package trigger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ecr"
	ecrtypes "github.com/aws/aws-sdk-go-v2/service/ecr/types"
)

// ErrNoImages is returned when a repository holds no tagged image.
var ErrNoImages = errors.New("repository has no tagged images")

// LatestImageTag returns a tag of the most recently pushed tagged image.
func LatestImageTag(ctx context.Context, client ImagesAPI, repository string) (string, error) {
	p := ecr.NewDescribeImagesPaginator(client, &ecr.DescribeImagesInput{
		RepositoryName: aws.String(repository),
		Filter:         &ecrtypes.DescribeImagesFilter{TagStatus: ecrtypes.TagStatusTagged},
	})
	var (
		latestTag string
		latestAt  time.Time
	)
	for p.HasMorePages() {
		page, err := p.NextPage(ctx)
		if err != nil {
			return "", fmt.Errorf("describe images in %s: %w", repository, err)
		}
		for _, img := range page.ImageDetails {
			if len(img.ImageTags) == 0 || img.ImagePushedAt == nil {
				continue
			}
			if latestTag == "" || img.ImagePushedAt.After(latestAt) {
				latestTag, latestAt = img.ImageTags[0], *img.ImagePushedAt
			}
		}
	}
	if latestTag == "" {
		return "", fmt.Errorf("%s: %w", repository, ErrNoImages)
	}
	return latestTag, nil
}
