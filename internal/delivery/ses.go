package delivery

import (
	"context"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/sesv2"
	"github.com/aws/aws-sdk-go-v2/service/sesv2/types"
	"github.com/aws/smithy-go"

	"github.com/locallift/backend/internal/config"
)

// SESAPI is the subset of the SES v2 client used for sending.
type SESAPI interface {
	SendEmail(ctx context.Context, in *sesv2.SendEmailInput, optFns ...func(*sesv2.Options)) (*sesv2.SendEmailOutput, error)
}

// SESAdapter delivers the email method through AWS SES v2.
type SESAdapter struct {
	Client SESAPI
	From   string
}

// NewSESAdapter builds an SES client. Static credentials are used when both
// keys are configured, otherwise the default AWS credential chain applies.
func NewSESAdapter(ctx context.Context, cfg config.EmailConfig) (*SESAdapter, error) {
	region := cfg.Region
	if region == "" {
		region = "us-east-1"
	}
	opts := []func(*awsconfig.LoadOptions) error{awsconfig.WithRegion(region)}
	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, "")))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	return &SESAdapter{Client: sesv2.NewFromConfig(awsCfg), From: cfg.From}, nil
}

// permanentSESCodes are SES error codes that a retry cannot fix.
var permanentSESCodes = map[string]bool{
	"MessageRejected":                    true,
	"MailFromDomainNotVerifiedException": true,
	"BadRequestException":                true,
	"AccountSuspendedException":          true,
	"SendingPausedException":             true,
	"NotFoundException":                  true,
}

func (a *SESAdapter) Send(ctx context.Context, p Payload, recipients []string) (Outcome, error) {
	if len(recipients) == 0 {
		return PermanentFailure, errNoRecipients
	}
	input := &sesv2.SendEmailInput{
		FromEmailAddress: aws.String(a.From),
		Destination:      &types.Destination{ToAddresses: recipients},
		Content: &types.EmailContent{
			Simple: &types.Message{
				Subject: &types.Content{Data: aws.String(p.Subject), Charset: aws.String("UTF-8")},
				Body: &types.Body{
					Html: &types.Content{Data: aws.String(p.HTML), Charset: aws.String("UTF-8")},
					Text: &types.Content{Data: aws.String(p.Text), Charset: aws.String("UTF-8")},
				},
			},
		},
		EmailTags: []types.MessageTag{
			{Name: aws.String("report_id"), Value: aws.String(p.ReportID)},
		},
	}

	if _, err := a.Client.SendEmail(ctx, input); err != nil {
		return classifySESError(err), fmt.Errorf("ses send: %w", err)
	}
	return Delivered, nil
}

func classifySESError(err error) Outcome {
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) && permanentSESCodes[apiErr.ErrorCode()] {
		return PermanentFailure
	}
	return TransientFailure
}
