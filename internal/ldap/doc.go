/*
Package ldap provides the directory side of credential resolution.

# Architecture Overview

A Handler owns one directory session and the settings that govern it:

  - Connection: Connect, ConnectByDN and Bind open a session and bind either
    the service identity or a user identity. Refused credentials are reported
    as a false result, faults as errors.
  - Search: SearchByAuth, SearchByUID, SearchByEmail, SearchByEmailArray and
    SearchByQuery run filters under the configured base DN.
  - Extraction: GetAttributeFromResults and IsValidResult read search results.
  - Identities: add and modify identities cascade from the service identity
    unless set explicitly.

# Configuration

Host, base DN, bind DN and password accept "|" separated alternatives. Only
the first alternative is used to connect; the rest are kept for callers that
implement their own failover.

# Password Values

SSHA and VerifySSHA produce and check {SSHA} values for directory writes and
stored hashes.

# Logging

All operations log through the "ldap" tflog subsystem. Passwords are never
logged; see SanitizeFields.
*/
package ldap
