/*
Package security decrypts the build credentials (cloud access
key/secret, registry user/pass) a SIM_BUILD/DEEPDRIVE_BUILD job needs,
using AES-256-GCM with the nonce prepended to the ciphertext. Manager
holds the symmetric key; DecryptCredentials unwraps a registry-held
Secret into the Credentials a build container's env is built from.
*/
package security
