// Package identitykit is an embeddable identity provider emulator. It keeps
// every account in memory, mints unsigned JWT-shaped credentials, and
// reproduces the Identity Toolkit operation surface: password, phone,
// custom-token, email-link and federated sign-in, account management, batch
// import and export, SMS second factors, multi-tenancy, and blocking
// functions.
//
// Build an engine, grab a project handle and call operations on its account
// realms:
//
//	engine, err := identitykit.New().Build()
//	if err != nil {
//		log.Fatal(err)
//	}
//	defer engine.Close()
//
//	accounts := engine.Project("demo-project").Accounts()
//	resp, err := accounts.SignUp(ctx, identitykit.SignUpRequest{
//		Email:    "jane@example.com",
//		Password: "hunter22",
//	})
//
// Credentials are deliberately unverifiable: tokens use alg "none" and
// passwords are stored as recognizable fake hashes. Nothing produced by this
// package is safe to use against production services.
package identitykit
