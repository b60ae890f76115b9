package notify

import (
	htmltemplate "html/template"
	texttemplate "text/template"
)

var (
	verificationHTML = htmltemplate.Must(htmltemplate.New("verify.html").Parse(`<!DOCTYPE html>
<html>
<body style="font-family: sans-serif; line-height: 1.5;">
  <h2>Welcome to Infinite Studio, {{.Username}}!</h2>
  <p>Please confirm your email address to unlock course enrollment.</p>
  <p><a href="{{.Link}}" style="display:inline-block;padding:10px 18px;background:#111;color:#fff;text-decoration:none;border-radius:4px;">Verify email</a></p>
  <p>If the button does not work, paste this link into your browser:<br>{{.Link}}</p>
  <p>If you did not create an account, you can ignore this email.</p>
</body>
</html>
`))

	verificationText = texttemplate.Must(texttemplate.New("verify.txt").Parse(`Welcome to Infinite Studio, {{.Username}}!

Please confirm your email address to unlock course enrollment:

{{.Link}}

If you did not create an account, you can ignore this email.
`))

	resetHTML = htmltemplate.Must(htmltemplate.New("reset.html").Parse(`<!DOCTYPE html>
<html>
<body style="font-family: sans-serif; line-height: 1.5;">
  <h2>Password reset</h2>
  <p>Hi {{.Username}}, we received a request to reset your Infinite Studio password.</p>
  <p><a href="{{.Link}}" style="display:inline-block;padding:10px 18px;background:#111;color:#fff;text-decoration:none;border-radius:4px;">Choose a new password</a></p>
  <p>This link expires in {{.ExpiresIn}}. If you did not ask for a reset, no action is needed.</p>
</body>
</html>
`))

	resetText = texttemplate.Must(texttemplate.New("reset.txt").Parse(`Hi {{.Username}},

We received a request to reset your Infinite Studio password. Choose a new one here:

{{.Link}}

This link expires in {{.ExpiresIn}}. If you did not ask for a reset, no action is needed.
`))
)
